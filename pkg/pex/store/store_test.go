// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"crypto/sha256"
	"hash"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/store"
)

type fakeDownloader struct {
	calls   int
	content string
}

func (d *fakeDownloader) Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error) {
	d.calls++
	if err := os.WriteFile(filepath.Join(destDir, "payload"), []byte(d.content), 0o644); err != nil {
		return "", err
	}
	if _, err := digest.Write([]byte(d.content)); err != nil {
		return "", err
	}
	return "payload", nil
}

func TestStorePopulatesOnFirstCall(t *testing.T) {
	downloader := &fakeDownloader{content: "hello"}
	s := store.New(t.TempDir(), downloader)

	artifact := model.FileArtifact{Filename_: "widget-1.0.whl", Fingerprint: model.Fingerprint{Algorithm: "sha256", HexDigest: sumHex(t, "hello")}}
	pin := model.Pin{ProjectName: model.NewProjectName("widget")}

	downloaded, err := s.Store(context.Background(), artifact, pin)
	require.NoError(t, err)
	assert.Equal(t, 1, downloader.calls)
	assert.DirExists(t, downloaded.Path)
	assert.Equal(t, "sha256", downloaded.Fingerprint.Algorithm)
}

func TestStoreIsIdempotentAcrossCalls(t *testing.T) {
	downloader := &fakeDownloader{content: "hello"}
	s := store.New(t.TempDir(), downloader)

	artifact := model.FileArtifact{Filename_: "widget-1.0.whl", Fingerprint: model.Fingerprint{Algorithm: "sha256", HexDigest: sumHex(t, "hello")}}
	pin := model.Pin{ProjectName: model.NewProjectName("widget")}

	_, err := s.Store(context.Background(), artifact, pin)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), artifact, pin)
	require.NoError(t, err)

	assert.Equal(t, 1, downloader.calls, "second Store call should reuse the finalized cache entry")
}

func TestStoreRejectsFingerprintMismatch(t *testing.T) {
	downloader := &fakeDownloader{content: "not what was promised"}
	s := store.New(t.TempDir(), downloader)

	artifact := model.FileArtifact{Filename_: "widget-1.0.whl", Fingerprint: model.Fingerprint{Algorithm: "sha256", HexDigest: sumHex(t, "hello")}}
	pin := model.Pin{ProjectName: model.NewProjectName("widget")}

	_, err := s.Store(context.Background(), artifact, pin)
	require.Error(t, err)
}

func sumHex(t *testing.T, s string) string {
	t.Helper()
	h := sha256.New()
	_, err := h.Write([]byte(s))
	require.NoError(t, err)
	return hexDigest(h.Sum(nil))
}

func hexDigest(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
