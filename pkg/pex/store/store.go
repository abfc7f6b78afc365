// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package store implements a disk-backed, content-addressed cache mapping
// (kind, project_name, artifact_id) to a materialized path and fingerprint.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/atomicdir"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/fingerprint"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/pexerr"
)

// Downloader is implemented by the three artifact-downloader variants.
type Downloader interface {
	// Save streams the artifact's bytes into destDir (writing into digest concurrently) and
	// returns the filename it wrote, relative to destDir.
	Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error)
}

// Store is the artifact store: a content-addressed cache rooted at Root, with one subtree per
// artifact kind (cache layout: artifacts/{file,vcs,local}/<project>/<key>/...).
type Store struct {
	Root       string
	Downloader Downloader
}

func New(root string, downloader Downloader) *Store {
	return &Store{Root: root, Downloader: downloader}
}

const fingerprintSidecar = "FINGERPRINT"

// cachePath implements the three key schemes, one per artifact kind.
func (s *Store) cachePath(artifact model.Artifact, projectName model.ProjectName) (string, error) {
	switch a := artifact.(type) {
	case model.FileArtifact:
		if a.Fingerprint.IsZero() {
			return "", fmt.Errorf("store: file artifact %s has no recorded fingerprint", a.URL)
		}
		return filepath.Join(s.Root, "artifacts", "file", string(projectName), a.Fingerprint.HexDigest), nil
	case model.VCSArtifact:
		key := sha256Hex(string(a.VCSKind) + "\x00" + a.URL + "\x00" + a.Reference)
		return filepath.Join(s.Root, "artifacts", "vcs", string(projectName), key), nil
	case model.LocalProjectArtifact:
		abs, err := filepath.Abs(a.Directory)
		if err != nil {
			return "", fmt.Errorf("store: resolving local project directory: %w", err)
		}
		contentHash, err := localProjectContentHash(abs)
		if err != nil {
			return "", err
		}
		return filepath.Join(s.Root, "artifacts", "local", string(projectName), abs2key(abs)+"-"+contentHash), nil
	default:
		return "", fmt.Errorf("store: unrecognized artifact kind %T", artifact)
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func abs2key(abs string) string {
	return sha256Hex(abs)[:16]
}

func localProjectContentHash(dir string) (string, error) {
	h, err := fingerprint.NewHasher("sha256")
	if err != nil {
		return "", err
	}
	if err := fingerprint.DirectoryHash(dir, fingerprint.StandardDirFilter, fingerprint.StandardFileFilter, h); err != nil {
		return "", err
	}
	return fingerprint.Finish("sha256", h).HexDigest, nil
}

// Store materializes artifact into the cache, returning its DownloadedArtifact. At most one
// actual download occurs per key even under concurrent calls from multiple goroutines, because
// acquisition goes through atomicdir's exclusive BSD-style lock.
func (s *Store) Store(ctx context.Context, artifact model.Artifact, pin model.Pin) (model.DownloadedArtifact, error) {
	cachePath, err := s.cachePath(artifact, pin.ProjectName)
	if err != nil {
		return model.DownloadedArtifact{}, err
	}

	scope, err := atomicdir.New(ctx, cachePath, true)
	if err != nil {
		return model.DownloadedArtifact{}, &pexerr.CacheError{Path: cachePath, Cause: err}
	}

	if scope.IsFinalized {
		fp, err := readSidecar(cachePath)
		if err != nil {
			return model.DownloadedArtifact{}, &pexerr.CacheError{Path: cachePath, Cause: err}
		}
		return model.DownloadedArtifact{Path: cachePath, Fingerprint: fp}, nil
	}

	downloaded, err := s.populate(ctx, scope, artifact, pin)
	if err != nil {
		if abortErr := scope.Abort(ctx); abortErr != nil {
			dlog.Errorf(ctx, "store: aborting after populate failure: %v", abortErr)
		}
		return model.DownloadedArtifact{}, err
	}

	if err := scope.Commit(ctx); err != nil {
		return model.DownloadedArtifact{}, &pexerr.CacheError{Path: cachePath, Cause: err}
	}
	downloaded.Path = cachePath
	return downloaded, nil
}

func (s *Store) populate(ctx context.Context, scope *atomicdir.Scope, artifact model.Artifact, pin model.Pin) (model.DownloadedArtifact, error) {
	algorithm := "sha256"
	if fa, ok := artifact.(model.FileArtifact); ok && fa.Fingerprint.Algorithm != "" {
		algorithm = fa.Fingerprint.Algorithm
	}
	h, err := fingerprint.NewHasher(algorithm)
	if err != nil {
		return model.DownloadedArtifact{}, err
	}

	if _, err := s.Downloader.Save(ctx, artifact, pin, scope.WorkDir, h); err != nil {
		return model.DownloadedArtifact{}, err
	}

	fp := fingerprint.Finish(algorithm, h)

	if fa, ok := artifact.(model.FileArtifact); ok {
		if fp.HexDigest != fa.Fingerprint.HexDigest {
			return model.DownloadedArtifact{}, &pexerr.FingerprintMismatch{
				ProjectName: pin.ProjectName.String(),
				Expected:    fa.Fingerprint.String(),
				Actual:      fp.String(),
			}
		}
	}

	if err := writeSidecar(scope.WorkDir, fp); err != nil {
		return model.DownloadedArtifact{}, err
	}

	return model.DownloadedArtifact{Fingerprint: fp}, nil
}

func writeSidecar(dir string, fp model.Fingerprint) error {
	return os.WriteFile(filepath.Join(dir, fingerprintSidecar), []byte(fp.Algorithm+":"+fp.HexDigest+"\n"), 0o644)
}

func readSidecar(dir string) (model.Fingerprint, error) {
	content, err := os.ReadFile(filepath.Join(dir, fingerprintSidecar))
	if err != nil {
		return model.Fingerprint{}, err
	}
	line := strings.TrimSpace(string(content))
	algorithm, hexDigest, ok := strings.Cut(line, ":")
	if !ok {
		return model.Fingerprint{}, fmt.Errorf("store: malformed sidecar fingerprint file: %q", line)
	}
	return model.Fingerprint{Algorithm: algorithm, HexDigest: hexDigest}, nil
}
