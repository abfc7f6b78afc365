// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download

import (
	"context"
	"fmt"
	"hash"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// Dispatcher implements store.Downloader by routing each artifact to the one of the three
// downloader variants that knows how to fetch it, so a single store.Store can be handed one
// Downloader regardless of which kind of artifact a given DownloadableArtifact turns out to be.
type Dispatcher struct {
	File         *FileDownloader
	VCS          *VCSDownloader
	LocalProject *LocalProjectDownloader
}

func (d *Dispatcher) Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error) {
	switch artifact.(type) {
	case model.FileArtifact:
		return d.fileDownloader().Save(ctx, artifact, pin, destDir, digest)
	case model.VCSArtifact:
		return d.vcsDownloader().Save(ctx, artifact, pin, destDir, digest)
	case model.LocalProjectArtifact:
		return d.localProjectDownloader().Save(ctx, artifact, pin, destDir, digest)
	default:
		return "", fmt.Errorf("download: no downloader registered for artifact type %T", artifact)
	}
}

func (d *Dispatcher) fileDownloader() *FileDownloader {
	if d.File != nil {
		return d.File
	}
	return &FileDownloader{}
}

func (d *Dispatcher) vcsDownloader() *VCSDownloader {
	if d.VCS != nil {
		return d.VCS
	}
	return &VCSDownloader{}
}

func (d *Dispatcher) localProjectDownloader() *LocalProjectDownloader {
	if d.LocalProject != nil {
		return d.LocalProject
	}
	return &LocalProjectDownloader{}
}
