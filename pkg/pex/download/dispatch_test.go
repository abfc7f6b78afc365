// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download_test

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/download"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

func TestDispatcherRoutesLocalProjectArtifacts(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "setup.py"), []byte("# x\n"), 0o644))

	d := &download.Dispatcher{}
	filename, err := d.Save(context.Background(), model.LocalProjectArtifact{Directory: srcDir},
		model.Pin{ProjectName: model.NewProjectName("widget")}, t.TempDir(), sha256.New())
	require.NoError(t, err)
	assert.NotEmpty(t, filename)
}

func TestDispatcherRejectsUnknownArtifactKind(t *testing.T) {
	d := &download.Dispatcher{}
	_, err := d.Save(context.Background(), nil, model.Pin{ProjectName: model.NewProjectName("widget")}, t.TempDir(), sha256.New())
	require.Error(t, err)
}
