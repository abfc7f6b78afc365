// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package atomicdir_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/atomicdir"
)

func TestCommitPublishesWorkDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := filepath.Join(root, "published")

	scope, err := atomicdir.New(ctx, target, true)
	require.NoError(t, err)
	require.False(t, scope.IsFinalized)

	require.NoError(t, os.WriteFile(filepath.Join(scope.WorkDir, "marker"), []byte("ok"), 0o644))
	require.NoError(t, scope.Commit(ctx))

	content, err := os.ReadFile(filepath.Join(target, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(content))
}

func TestAbortRemovesWorkDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := filepath.Join(root, "published")

	scope, err := atomicdir.New(ctx, target, true)
	require.NoError(t, err)
	workDir := scope.WorkDir

	require.NoError(t, scope.Abort(ctx))

	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAlreadyFinalized(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := filepath.Join(root, "published")
	require.NoError(t, os.MkdirAll(target, 0o755))

	scope, err := atomicdir.New(ctx, target, true)
	require.NoError(t, err)
	assert.True(t, scope.IsFinalized)
	assert.Empty(t, scope.WorkDir)
}

func TestConcurrentFirstPopulateRace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := filepath.Join(root, "published")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope, err := atomicdir.New(ctx, target, true)
			if err != nil {
				errs[i] = err
				return
			}
			if !scope.IsFinalized {
				if werr := os.WriteFile(filepath.Join(scope.WorkDir, "marker"), []byte("ok"), 0o644); werr != nil {
					errs[i] = werr
					return
				}
				errs[i] = scope.Commit(ctx)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var dirCount, orphans int
	for _, e := range entries {
		if e.Name() == "published" {
			dirCount++
		}
		if strings.HasPrefix(e.Name(), "published.tmp-") {
			orphans++
		}
	}
	assert.Equal(t, 1, dirCount, "exactly one published directory should exist")
	assert.Equal(t, 0, orphans, "no orphan work directories should remain alongside the published directory")
}
