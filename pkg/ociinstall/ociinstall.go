// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package ociinstall packs an InstalledDistribution's on-disk directory into a reproducible,
// content-addressable tarball using the same OCI layer/tar abstractions the install pipeline
// unpacks from, so a caller that wants a single transferable artifact for an install root doesn't
// need a second tar implementation.
package ociinstall

import (
	"io"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/sthagen/pantsbuild-pex/pkg/dir"
	"github.com/sthagen/pantsbuild-pex/pkg/fsutil"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// PackOptions controls how an install root is packed: a fixed modification-time clamp (for
// bit-for-bit reproducibility across re-packs) and an optional directory prefix and ownership
// override, mirroring dir.LayerFromDir's own knobs.
type PackOptions struct {
	ClampTime time.Time
	Prefix    *dir.Prefix
	Chown     *dir.Ownership
}

// Pack builds a gzip-less tar layer from an InstalledDistribution's DistributionDir, deterministic
// modulo PackOptions.ClampTime: identical directory contents packed with the same ClampTime
// produce byte-identical tarballs, since dir.LayerFromDir walks in a fixed (lexicographic,
// filepath.Walk) order and clamps every entry's timestamps.
func Pack(dist model.InstalledDistribution, opts PackOptions, layerOpts ...ociv1tarball.LayerOption) (ociv1.Layer, error) {
	return dir.LayerFromDir(dist.DistributionDir, opts.Prefix, opts.Chown, opts.ClampTime, layerOpts...)
}

// WriteTarball packs dist and streams the resulting tar directly to w, for callers that just want
// bytes on disk (e.g. a CLI "export" command) without holding an ociv1.Layer around.
func WriteTarball(dist model.InstalledDistribution, opts PackOptions, w io.Writer, layerOpts ...ociv1tarball.LayerOption) error {
	layer, err := Pack(dist, opts, layerOpts...)
	if err != nil {
		return err
	}
	return fsutil.WriteLayer(layer, w)
}
