// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package download_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/download"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

func TestFileDownloaderSavesAndDigests(t *testing.T) {
	const body = "hello from the package index\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	destDir := t.TempDir()
	d := &download.FileDownloader{}
	h := sha256.New()

	filename, err := d.Save(context.Background(), model.FileArtifact{
		URL:       srv.URL + "/dist/widget-1.0-py3-none-any.whl",
		Filename_: "widget-1.0-py3-none-any.whl",
	}, model.Pin{ProjectName: model.NewProjectName("widget")}, destDir, h)
	require.NoError(t, err)
	assert.Equal(t, "widget-1.0-py3-none-any.whl", filename)

	content, err := os.ReadFile(filepath.Join(destDir, filename))
	require.NoError(t, err)
	assert.Equal(t, body, string(content))

	expected := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(expected[:]), hex.EncodeToString(h.Sum(nil)))
}

func TestFileDownloaderRetriesOnFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := &download.FileDownloader{Network: download.NetworkConfiguration{Retries: 2}}
	h := sha256.New()

	_, err := d.Save(context.Background(), model.FileArtifact{
		URL:       srv.URL + "/pkg.tar.gz",
		Filename_: "pkg.tar.gz",
	}, model.Pin{ProjectName: model.NewProjectName("pkg")}, t.TempDir(), h)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestFileDownloaderResolvesViaIndexWhenURLMissing(t *testing.T) {
	const wheelBody = "not really a wheel\n"

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/widget", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<!DOCTYPE html><html><body>
			<a href="widget-1.0-py3-none-any.whl">widget-1.0-py3-none-any.whl</a>
		</body></html>`))
	})
	mux.HandleFunc("/simple/widget-1.0-py3-none-any.whl", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(wheelBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := &download.FileDownloader{IndexURL: srv.URL + "/simple/"}
	h := sha256.New()

	filename, err := d.Save(context.Background(), model.FileArtifact{
		Filename_: "widget-1.0-py3-none-any.whl",
	}, model.Pin{ProjectName: model.NewProjectName("widget")}, t.TempDir(), h)
	require.NoError(t, err)
	assert.Equal(t, "widget-1.0-py3-none-any.whl", filename)
}

func TestFileDownloaderExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &download.FileDownloader{Network: download.NetworkConfiguration{Retries: 1}}
	h := sha256.New()

	_, err := d.Save(context.Background(), model.FileArtifact{
		URL:       srv.URL + "/pkg.tar.gz",
		Filename_: "pkg.tar.gz",
	}, model.Pin{ProjectName: model.NewProjectName("pkg")}, t.TempDir(), h)
	require.Error(t, err)
}
