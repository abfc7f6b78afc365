// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download

import (
	"context"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/fingerprint"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// LocalProjectDownloader copies a LocalProjectArtifact's source directory into dest_dir,
// filtering out __pycache__/*.pyc the same way fingerprint.DirectoryHash does, so the on-disk
// copy used for building matches exactly what was hashed when the cache key was computed.
type LocalProjectDownloader struct{}

func (d *LocalProjectDownloader) Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error) {
	lpa, ok := artifact.(model.LocalProjectArtifact)
	if !ok {
		return "", fmt.Errorf("download: LocalProjectDownloader given non-local-project artifact %T", artifact)
	}

	srcDir, err := filepath.Abs(lpa.Directory)
	if err != nil {
		return "", fmt.Errorf("download: resolving %s: %w", lpa.Directory, err)
	}

	const projectSubdir = "project"
	copyDir := filepath.Join(destDir, projectSubdir)
	if err := copyFilteredTree(srcDir, copyDir); err != nil {
		return "", err
	}

	if err := fingerprint.DirectoryHash(copyDir, fingerprint.StandardDirFilter, fingerprint.StandardFileFilter, digest); err != nil {
		return "", err
	}

	return projectSubdir, nil
}

func copyFilteredTree(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("download: reading %s: %w", srcDir, err)
	}

	var dirNames, fileNames []string
	for _, e := range entries {
		if e.IsDir() {
			dirNames = append(dirNames, e.Name())
		} else {
			fileNames = append(fileNames, e.Name())
		}
	}
	dirNames = fingerprint.StandardDirFilter(dirNames)
	fileNames = fingerprint.StandardFileFilter(fileNames)
	keep := make(map[string]bool, len(dirNames)+len(fileNames))
	for _, n := range dirNames {
		keep[n] = true
	}
	for _, n := range fileNames {
		keep[n] = true
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}

	for _, e := range entries {
		if !keep[e.Name()] {
			continue
		}
		srcPath := filepath.Join(srcDir, e.Name())
		dstPath := filepath.Join(dstDir, e.Name())
		if e.IsDir() {
			if err := copyFilteredTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return err
		}
		return os.Symlink(target, dstPath)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}
