// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download

import (
	"archive/zip"
	"context"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/datawire/dlib/dexec"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/build"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/fingerprint"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// SdistBuilder is the external build-resolver capability a VCS download invokes to turn a
// checked-out source tree into a single source distribution archive, satisfied in production by
// *build.Driver's build_sdist hook. The returned Result.ArtifactRelPath must name a zip file,
// since VCSDownloader.Save hands it straight to fingerprint.DigestVCSArchive.
type SdistBuilder interface {
	Run(ctx context.Context, req build.Request) (build.Result, error)
}

// localZipBuilder is the zero-value SdistBuilder: it archives the checkout whole, VCS control
// directory included, instead of invoking any build backend. It exists so VCSDownloader keeps
// working with no build driver configured; inject a *build.Driver via VCSDownloader.Builder to
// drive a real PEP 517 build_sdist hook instead.
type localZipBuilder struct{}

func (localZipBuilder) Run(ctx context.Context, req build.Request) (build.Result, error) {
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return build.Result{}, err
	}
	const archiveName = "checkout.zip"
	if err := archiveDir(req.SourceDir, filepath.Join(req.WorkDir, archiveName)); err != nil {
		return build.Result{}, err
	}
	return build.Result{ArtifactRelPath: archiveName}, nil
}

// VCSDownloader clones a VCSArtifact's repository at its pinned reference, then hands the
// checkout to Builder's build_sdist hook to produce the single local distribution a VCS artifact
// resolves to, using dexec.CommandContext pattern (pkg/gobuild.LayerFromGo) generalized from "go
// build" to VCS client invocations, with git handled in-process via go-git to avoid requiring a
// system git binary for the common case.
type VCSDownloader struct {
	// HgPath, BzrPath, SvnPath override the external client binaries used for non-git VCS
	// kinds; empty means "look up on PATH".
	HgPath, BzrPath, SvnPath string

	// Builder produces the sdist from the checkout; nil falls back to localZipBuilder.
	Builder SdistBuilder
	// Backend overrides the build-backend invoked; a zero value means "read the checkout's own
	// pyproject.toml declaration, falling back to build.DefaultBackend."
	Backend build.Backend
}

func (d *VCSDownloader) builder() SdistBuilder {
	if d.Builder != nil {
		return d.Builder
	}
	return localZipBuilder{}
}

func (d *VCSDownloader) Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error) {
	va, ok := artifact.(model.VCSArtifact)
	if !ok {
		return "", fmt.Errorf("download: VCSDownloader given non-VCS artifact %T", artifact)
	}

	checkoutDir := filepath.Join(destDir, "checkout")
	if err := os.MkdirAll(checkoutDir, 0o755); err != nil {
		return "", err
	}

	var err error
	switch va.VCSKind {
	case model.VCSGit:
		err = d.cloneGit(ctx, va, checkoutDir)
	case model.VCSHg:
		err = d.runExternal(ctx, pathOrDefault(d.HgPath, "hg"), checkoutDir, "clone", "--updaterev", va.Reference, va.URL, checkoutDir)
	case model.VCSBzr:
		err = d.runExternal(ctx, pathOrDefault(d.BzrPath, "bzr"), checkoutDir, "branch", "-r", va.Reference, va.URL, checkoutDir)
	case model.VCSSvn:
		err = d.runExternal(ctx, pathOrDefault(d.SvnPath, "svn"), checkoutDir, "checkout", "-r", va.Reference, va.URL, checkoutDir)
	default:
		err = fmt.Errorf("download: unrecognized VCS kind %q", va.VCSKind)
	}
	if err != nil {
		return "", err
	}

	backend := d.Backend
	if backend.BuildBackend == "" {
		declared, err := build.LoadBuildSystem(checkoutDir)
		if err != nil {
			return "", fmt.Errorf("download: reading build-system declaration for %s: %w", pin, err)
		}
		backend = build.SelectBackend(declared)
	}

	buildWorkDir := filepath.Join(destDir, "build")
	result, err := d.builder().Run(ctx, build.Request{
		ProjectName: pin.ProjectName,
		SourceDir:   checkoutDir,
		Backend:     backend,
		Hook:        build.HookBuildSdist,
		WorkDir:     buildWorkDir,
	})
	if err != nil {
		return "", fmt.Errorf("download: building sdist for %s: %w", pin, err)
	}
	if result.ArtifactRelPath == "" {
		return "", fmt.Errorf("download: build resolver for %s produced no local distribution", pin)
	}

	// The produced artifact is the only local distribution for this pin: it is renamed into
	// dest_dir under the pin-qualified {project_name}-{version}.zip filename callers expect
	// (os.Rename replaces any file already at that path).
	builtPath := filepath.Join(buildWorkDir, result.ArtifactRelPath)
	archivePath := filepath.Join(destDir, pin.String()+".zip")
	if err := os.Rename(builtPath, archivePath); err != nil {
		return "", fmt.Errorf("download: moving built artifact for %s into place: %w", pin, err)
	}

	if err := fingerprint.DigestVCSArchive(archivePath, va.VCSKind, digest); err != nil {
		return "", fmt.Errorf("download: fingerprinting %s: %w", archivePath, err)
	}
	return filepath.Base(archivePath), nil
}

func pathOrDefault(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (d *VCSDownloader) cloneGit(ctx context.Context, va model.VCSArtifact, checkoutDir string) error {
	// No Depth: a shallow clone only fetches the tip of the default branch, and va.Reference is
	// typically a pinned commit SHA that isn't that tip -- checking it out would fail with an
	// object-not-found error.
	repo, err := git.PlainCloneContext(ctx, checkoutDir, false, &git.CloneOptions{
		URL: va.URL,
	})
	if err != nil {
		return fmt.Errorf("download: cloning %s: %w", va.URL, err)
	}
	if va.Reference == "" {
		return nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("download: opening worktree for %s: %w", va.URL, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(va.Reference)}); err != nil {
		// Reference may name a branch/tag rather than a raw commit; try that form too.
		if err2 := worktree.Checkout(&git.CheckoutOptions{
			Branch: plumbing.NewRemoteReferenceName("origin", va.Reference),
		}); err2 != nil {
			return fmt.Errorf("download: checking out %s@%s: %w", va.URL, va.Reference, err)
		}
	}
	return nil
}

func (d *VCSDownloader) runExternal(ctx context.Context, bin, dir string, args ...string) error {
	exe, err := dexec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("download: %s not found: %w", bin, err)
	}
	cmd := dexec.CommandContext(ctx, exe, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("download: %s %v: %w", bin, args, err)
	}
	return nil
}

// archiveDir zips the full contents of srcDir (including any VCS control directory) into
// destPath. The control directory is pruned only when fingerprint.DigestVCSArchive later computes
// the archive's digest, not here -- build backends such as setuptools-scm read VCS metadata
// (e.g. `git describe` output) out of the control directory, so removing it pre-archive would
// corrupt builds that depend on it.
func archiveDir(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	zw := zip.NewWriter(out)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		zf, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(zf, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("download: archiving %s: %w", srcDir, err)
	}
	return zw.Close()
}
