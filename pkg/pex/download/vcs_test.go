// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download_test

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/build"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/download"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep440"
)

// initLocalGitRepo creates a one-commit git repository on disk, used as a clone source so the
// test never reaches the network.
func initLocalGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup.py"), []byte("# setup\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("setup.py")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestVCSDownloaderDefaultBuilderArchivesCheckout(t *testing.T) {
	srcRepo := initLocalGitRepo(t)

	d := &download.VCSDownloader{}
	destDir := t.TempDir()
	h := sha256.New()

	version, err := pep440.ParseVersion("1.0")
	require.NoError(t, err)
	pin := model.Pin{ProjectName: model.NewProjectName("widget"), Version: *version}

	filename, err := d.Save(context.Background(), model.VCSArtifact{VCSKind: model.VCSGit, URL: srcRepo}, pin, destDir, h)
	require.NoError(t, err)
	assert.Equal(t, "widget-1.0.zip", filename)
	assert.FileExists(t, filepath.Join(destDir, filename))
	assert.NotEmpty(t, h.Sum(nil))
}

func TestVCSDownloaderRejectsNonVCSArtifact(t *testing.T) {
	d := &download.VCSDownloader{}
	_, err := d.Save(context.Background(), model.FileArtifact{}, model.Pin{}, t.TempDir(), sha256.New())
	require.Error(t, err)
}

// fakeBuilder lets a test observe that VCSDownloader.Save actually invokes the injected
// build-resolver capability rather than archiving the checkout itself.
type fakeBuilder struct {
	calls int
	req   build.Request
}

func (b *fakeBuilder) Run(ctx context.Context, req build.Request) (build.Result, error) {
	b.calls++
	b.req = req
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return build.Result{}, err
	}
	outPath := filepath.Join(req.WorkDir, "out.zip")
	f, err := os.Create(outPath)
	if err != nil {
		return build.Result{}, err
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("setup.py")
	if err == nil {
		_, err = w.Write([]byte("# fake sdist\n"))
	}
	if err == nil {
		err = zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return build.Result{}, err
	}
	return build.Result{ArtifactRelPath: "out.zip"}, nil
}

func TestVCSDownloaderInvokesInjectedBuilder(t *testing.T) {
	srcRepo := initLocalGitRepo(t)

	builder := &fakeBuilder{}
	d := &download.VCSDownloader{Builder: builder}
	destDir := t.TempDir()
	h := sha256.New()

	version, err := pep440.ParseVersion("2.3")
	require.NoError(t, err)
	pin := model.Pin{ProjectName: model.NewProjectName("gadget"), Version: *version}

	filename, err := d.Save(context.Background(), model.VCSArtifact{VCSKind: model.VCSGit, URL: srcRepo}, pin, destDir, h)
	require.NoError(t, err)
	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, build.HookBuildSdist, builder.req.Hook)
	assert.Equal(t, "gadget-2.3.zip", filename)
}

func TestVCSDownloaderRejectsEmptyBuilderResult(t *testing.T) {
	srcRepo := initLocalGitRepo(t)

	d := &download.VCSDownloader{Builder: emptyBuilder{}}
	destDir := t.TempDir()

	version, err := pep440.ParseVersion("1.0")
	require.NoError(t, err)
	pin := model.Pin{ProjectName: model.NewProjectName("widget"), Version: *version}

	_, err = d.Save(context.Background(), model.VCSArtifact{VCSKind: model.VCSGit, URL: srcRepo}, pin, destDir, sha256.New())
	require.Error(t, err)
}

type emptyBuilder struct{}

func (emptyBuilder) Run(ctx context.Context, req build.Request) (build.Result, error) {
	return build.Result{}, nil
}
