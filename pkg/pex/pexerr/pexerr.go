// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pexerr holds the error taxonomy of the lock-driven resolver core. Each
// variant is a distinct, structured type rather than a bare sentinel, so callers can extract the
// fields they need (e.g. both sides of a fingerprint mismatch) with errors.As.
package pexerr

import (
	"fmt"
	"strings"
)

// LockParseError indicates a malformed lockfile: invalid JSON, or path-mapping placeholders that
// could not be resolved.
type LockParseError struct {
	Source             string
	UnresolvedNames    []string
	Cause              error
}

func (e *LockParseError) Error() string {
	if len(e.UnresolvedNames) > 0 {
		return fmt.Sprintf("lockfile %s: unresolved path-mapping placeholders: %s",
			e.Source, strings.Join(e.UnresolvedNames, ", "))
	}
	return fmt.Sprintf("lockfile %s: parse error: %v", e.Source, e.Cause)
}

func (e *LockParseError) Unwrap() error { return e.Cause }

// TargetUnsatisfiedError indicates no LockedResolve scores a finite rank for a target.
type TargetUnsatisfiedError struct {
	Target string
}

func (e *TargetUnsatisfiedError) Error() string {
	return fmt.Sprintf("no locked resolve satisfies target %s", e.Target)
}

// ConstraintViolation indicates a locked version violates a user-supplied constraint.
type ConstraintViolation struct {
	ProjectName string
	Version     string
	Constraint  string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("%s %s violates constraint %q", e.ProjectName, e.Version, e.Constraint)
}

// FingerprintMismatch indicates a downloaded file's digest does not match the lockfile's recorded
// fingerprint.
type FingerprintMismatch struct {
	ProjectName string
	Expected    string
	Actual      string
}

func (e *FingerprintMismatch) Error() string {
	return fmt.Sprintf("%s: fingerprint mismatch: expected=%s actual=%s", e.ProjectName, e.Expected, e.Actual)
}

// DownloadTransportError indicates a network-level failure: timeout, DNS, non-2xx, or
// redirect-limit exceeded.
type DownloadTransportError struct {
	URL   string
	Cause error
}

func (e *DownloadTransportError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Cause)
}

func (e *DownloadTransportError) Unwrap() error { return e.Cause }

// BuildError indicates a build-backend hook subprocess exited non-zero and the exit was not the
// hook-unavailable sentinel (75).
type BuildError struct {
	ProjectName string
	Hook        string
	ExitCode    int
	Stderr      string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: hook %s exited %d:\n%s", e.ProjectName, e.Hook, e.ExitCode, e.Stderr)
}

// InstallError indicates an install subprocess failure.
type InstallError struct {
	ProjectName string
	Cause       error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.ProjectName, e.Cause)
}

func (e *InstallError) Unwrap() error { return e.Cause }

// CollisionError indicates multiple installed distributions contribute divergent bytes to the
// same site-packages path. Non-fatal by default (the caller may demote it to a warning).
type CollisionError struct {
	Path    string
	Sources []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("colliding installs at %s: %s", e.Path, strings.Join(e.Sources, ", "))
}

// CacheError indicates atomic-directory publication failed non-recoverably (i.e. not the
// lost-the-race case, which is not an error at all).
type CacheError struct {
	Path  string
	Cause error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Path, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }
