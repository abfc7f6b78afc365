// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package install implements installing a downloaded/built wheel into a per-distribution
// directory on disk, grounded directly on pkg/python/pypa/bdist.InstallWheel plus
// its PostInstallHook chain (entry_points.CreateScripts for shebang fixup and script relocation,
// recording_installs.Record for the final file manifest) -- adapted from installing into an
// in-memory VFS that becomes an OCI layer to installing into a real directory that becomes an
// InstalledDistribution.
//
// InstallEnvironment extends the same pipeline to a whole resolved set of wheels sharing one
// target: each wheel is installed into its own in-memory layer first, then the layers are merged
// with pkg/squash (the same whiteout/overwrite semantics it uses for OCI image layers)
// before a single materialize pass writes the merged tree to disk -- one shared site-packages
// root, the way a real virtualenv ends up with every distribution's files interleaved under one
// tree rather than one subdirectory per project.
package install

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/python"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep440"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pypa/bdist"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pypa/entry_points"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pypa/recording_installs"
	"github.com/sthagen/pantsbuild-pex/pkg/squash"
)

// Installer installs wheels for one DistributionTarget into a directory tree rooted at Root, one
// subdirectory per distribution.
type Installer struct {
	Target model.DistributionTarget
	// Platform carries the scheme/shebang/pycompile details a DistributionTarget's tag vector
	// can't derive on its own; the caller builds it and passes it in.
	Platform python.Platform
	Root     string
}

// Install installs the wheel at wheelPath into a fresh subdirectory of i.Root, returning the
// resulting InstalledDistribution. Bytecode compilation is skipped automatically by
// bdist.InstallWheel when i.Platform.PyCompile is nil, matching the convention that installing
// a wheel for a foreign platform disables bytecode compilation.
func (i *Installer) Install(ctx context.Context, projectName model.ProjectName, version, wheelPath string) (model.InstalledDistribution, error) {
	distDir := filepath.Join(i.Root, string(projectName)+"-"+version)
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return model.InstalledDistribution{}, fmt.Errorf("install: preparing %s: %w", distDir, err)
	}

	layer, err := bdist.InstallWheel(ctx,
		i.Platform,
		time.Time{},
		time.Time{},
		wheelPath,
		bdist.PostInstallHooks(
			entry_points.CreateScripts(i.Platform),
			recording_installs.Record("sha256", "pexcore install", nil),
		),
	)
	if err != nil {
		return model.InstalledDistribution{}, fmt.Errorf("install: %s: %w", projectName, err)
	}

	recorded, err := Materialize(layer, distDir)
	if err != nil {
		return model.InstalledDistribution{}, fmt.Errorf("install: materializing %s: %w", projectName, err)
	}

	return model.InstalledDistribution{
		Target:          i.Target,
		DistributionDir: distDir,
		ProjectName:     projectName,
		Version:         version,
		RecordedFiles:   recorded,
	}, nil
}

// WheelInstall is one resolved, downloaded wheel to fold into an InstallEnvironment.
type WheelInstall struct {
	ProjectName model.ProjectName
	Version     string
	WheelPath   string
}

// InstallEnvironment installs every wheel in wheels into one shared directory, merging their
// individual install layers with squash.Squash before materializing -- the last-writer-wins and
// whiteout-aware merge pkg/squash provides for combining OCI image layers is exactly the merge
// semantics a set of wheels sharing one site-packages root needs (e.g. a namespace package whose
// __init__.py is contributed by more than one distribution).
func (i *Installer) InstallEnvironment(ctx context.Context, envDir string, wheels []WheelInstall) (model.InstalledEnvironment, error) {
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return model.InstalledEnvironment{}, fmt.Errorf("install: preparing environment root %s: %w", envDir, err)
	}

	layers := make([]ociv1.Layer, 0, len(wheels))
	for _, w := range wheels {
		layer, err := bdist.InstallWheel(ctx,
			i.Platform,
			time.Time{},
			time.Time{},
			w.WheelPath,
			bdist.PostInstallHooks(entry_points.CreateScripts(i.Platform)),
		)
		if err != nil {
			return model.InstalledEnvironment{}, fmt.Errorf("install: %s: %w", w.ProjectName, err)
		}
		layers = append(layers, layer)
	}

	merged, err := squash.Squash(layers)
	if err != nil {
		return model.InstalledEnvironment{}, fmt.Errorf("install: merging %d wheel layers: %w", len(layers), err)
	}

	recorded, err := Materialize(merged, envDir)
	if err != nil {
		return model.InstalledEnvironment{}, fmt.Errorf("install: materializing environment: %w", err)
	}

	distributions := make([]model.Pin, 0, len(wheels))
	for _, w := range wheels {
		version, err := pep440.ParseVersion(w.Version)
		if err != nil {
			return model.InstalledEnvironment{}, fmt.Errorf("install: %s: %w", w.ProjectName, err)
		}
		distributions = append(distributions, model.Pin{ProjectName: w.ProjectName, Version: *version})
	}

	return model.InstalledEnvironment{
		Target:         i.Target,
		EnvironmentDir: envDir,
		Distributions:  distributions,
		RecordedFiles:  recorded,
	}, nil
}

// Materialize extracts layer's tar stream onto disk under destDir, returning the sorted list of
// regular-file paths relative to destDir -- a RECORD-equivalent manifest for the install.
// Exported so a caller already holding an ociv1.Layer (e.g. one read back with
// ociv1tarball.LayerFromOpener from a tarball produced elsewhere) can materialize it without
// going through a wheel file at all.
func Materialize(layer interface{ Uncompressed() (io.ReadCloser, error) }, destDir string) ([]string, error) {
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var files []string
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil { //nolint:gosec // mode comes from our own build pipeline
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			if err := writeRegularFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return nil, err
			}
			files = append(files, hdr.Name)
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func writeRegularFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0o600) //nolint:gosec // perm comes from our own build pipeline
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	_, err = io.Copy(out, r)
	return err
}
