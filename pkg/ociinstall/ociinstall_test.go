// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package ociinstall_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/ociinstall"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

func newInstalledDistribution(t *testing.T) model.InstalledDistribution {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "widget"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget", "__init__.py"), []byte("x = 1\n"), 0o644))
	return model.InstalledDistribution{
		DistributionDir: root,
		ProjectName:     model.NewProjectName("widget"),
		Version:         "1.0",
	}
}

func TestWriteTarballContainsInstalledFiles(t *testing.T) {
	dist := newInstalledDistribution(t)

	var buf bytes.Buffer
	require.NoError(t, ociinstall.WriteTarball(dist, ociinstall.PackOptions{}, &buf))

	tr := tar.NewReader(&buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, "widget/__init__.py")
}

func TestPackIsReproducibleForIdenticalClampTime(t *testing.T) {
	dist := newInstalledDistribution(t)
	clamp := time.Unix(0, 0)

	var first, second bytes.Buffer
	require.NoError(t, ociinstall.WriteTarball(dist, ociinstall.PackOptions{ClampTime: clamp}, &first))
	require.NoError(t, ociinstall.WriteTarball(dist, ociinstall.PackOptions{ClampTime: clamp}, &second))

	assert.Equal(t, first.Bytes(), second.Bytes())
}
