// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package atomicdir implements exclusive/shared scoped creation of a work directory that is
// atomically promoted to a final path on success.
package atomicdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/datawire/dlib/dlog"
)

// lockRetryInterval is how often TryLockContext polls while waiting for a peer holding the
// exclusive lock to finish.
const lockRetryInterval = 50 * time.Millisecond

// Scope is the handle returned by New. Callers populate WorkDir (when !IsFinalized) and then call
// Commit to publish it, or Abort to discard it.
type Scope struct {
	// TargetDir is the final path this scope will publish to.
	TargetDir string
	// WorkDir is the scratch directory to populate; undefined when IsFinalized is true.
	WorkDir string
	// IsFinalized is true when TargetDir already existed on entry -- a peer (this process or
	// another) already finished populating it.
	IsFinalized bool

	lock     *flock.Flock
	exclusive bool
	done     bool
}

// New creates (or discovers) a scope for targetDir. When exclusive is true, acquisition holds a
// per-target-path advisory BSD-style file lock (flock(2) semantics, thread-safe) for the duration
// of the scope -- required because callers are typically inside a goroutine pool, and POSIX
// record locks are not safe to use across threads under deadlock detection.
//
// When exclusive is false, no lock is taken: callers accept that multiple workers may populate
// independent work directories, only one of which wins the eventual rename.
func New(ctx context.Context, targetDir string, exclusive bool) (*Scope, error) {
	s := &Scope{TargetDir: targetDir, exclusive: exclusive}

	if exclusive {
		lockPath := targetDir + ".lock"
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
			return nil, fmt.Errorf("atomicdir: preparing lock directory: %w", err)
		}
		s.lock = flock.New(lockPath)
		locked, err := s.lock.TryLockContext(ctx, lockRetryInterval)
		if err != nil {
			return nil, fmt.Errorf("atomicdir: acquiring lock on %s: %w", lockPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("atomicdir: timed out acquiring lock on %s", lockPath)
		}
	}

	if _, err := os.Stat(targetDir); err == nil {
		s.IsFinalized = true
		s.done = true
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
		return s, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		s.release()
		return nil, fmt.Errorf("atomicdir: stat %s: %w", targetDir, err)
	}

	workDir, err := os.MkdirTemp(filepath.Dir(targetDir), filepath.Base(targetDir)+".tmp-")
	if err != nil {
		s.release()
		return nil, fmt.Errorf("atomicdir: creating work directory: %w", err)
	}
	s.WorkDir = workDir
	return s, nil
}

func (s *Scope) release() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// Abort discards the work directory. Call this when the work the scope was protecting failed.
func (s *Scope) Abort(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.release()
	if s.WorkDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.WorkDir); err != nil {
		dlog.Errorf(ctx, "atomicdir: cleaning up work directory %s: %v", s.WorkDir, err)
		return err
	}
	return nil
}

// Commit renames WorkDir to TargetDir. If a peer already finalized TargetDir first (rename fails
// with "directory not empty" or "already exists" semantics), that is treated as success: we lost
// the race, and WorkDir is removed. Any other rename error propagates.
func (s *Scope) Commit(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.release()
	if s.WorkDir == "" {
		// already finalized on entry; nothing to commit
		return nil
	}

	if err := os.Rename(s.WorkDir, s.TargetDir); err != nil {
		if isLostTheRace(err) {
			dlog.Debugf(ctx, "atomicdir: lost the race publishing %s; a peer finalized it first", s.TargetDir)
			if rmErr := os.RemoveAll(s.WorkDir); rmErr != nil {
				return fmt.Errorf("atomicdir: cleaning up losing work directory: %w", rmErr)
			}
			return nil
		}
		return fmt.Errorf("atomicdir: publishing %s: %w", s.TargetDir, err)
	}
	return nil
}

func isLostTheRace(err error) bool {
	return errors.Is(err, os.ErrExist) ||
		errors.Is(err, syscall.ENOTEMPTY) ||
		errors.Is(err, syscall.EEXIST) ||
		os.IsExist(err)
}
