// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package download implements the three artifact-downloader variants (file, VCS, local
// project), each satisfying store.Downloader.
package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/auth"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/pexerr"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep503"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep592"
)

// NetworkConfiguration covers retries, timeout, proxy, CA bundle, client
// certificate.
type NetworkConfiguration struct {
	Retries        int
	TimeoutSeconds int
	Proxy          *url.URL
	CABundle       string
	ClientCert     string
}

const maxRedirects = 20

// FileDownloader streams a FileArtifact's URL to dest_dir/filename, writing into digest
// concurrently, built on pep503.Client's HTTP plumbing generalized with redirect
// limits, retries, and password-database authentication.
//
// When a FileArtifact carries only a filename and no concrete URL (as some lockfiles record),
// Save falls back to scraping IndexURL's PEP 503 simple-repository-API listing for the project and
// locating a matching, non-yanked file link.
type FileDownloader struct {
	Network   NetworkConfiguration
	Passwords *auth.Database
	IndexURL  string       // defaults to pep503.PyPIBaseURL
	Client    *http.Client // optional override, mainly for tests
}

func (d *FileDownloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	transport := &http.Transport{}
	if d.Network.Proxy != nil {
		transport.Proxy = http.ProxyURL(d.Network.Proxy)
	}
	if tlsConfig, err := buildTLSConfig(d.Network); err == nil && tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeoutOrDefault(d.Network.TimeoutSeconds),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

func timeoutOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func (d *FileDownloader) Save(ctx context.Context, artifact model.Artifact, pin model.Pin, destDir string, digest hash.Hash) (string, error) {
	fa, ok := artifact.(model.FileArtifact)
	if !ok {
		return "", fmt.Errorf("download: FileDownloader given non-file artifact %T", artifact)
	}

	if fa.URL == "" {
		resolved, err := d.resolveViaIndex(ctx, fa, pin.ProjectName)
		if err != nil {
			return "", &pexerr.DownloadTransportError{URL: fa.Filename_, Cause: err}
		}
		fa = resolved
	}

	retries := d.Network.Retries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		filename, err := d.attempt(ctx, fa, destDir, digest)
		if err == nil {
			return filename, nil
		}
		lastErr = err
		digest.Reset()
	}
	return "", &pexerr.DownloadTransportError{URL: fa.URL, Cause: lastErr}
}

func (d *FileDownloader) attempt(ctx context.Context, fa model.FileArtifact, destDir string, digest hash.Hash) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fa.URL, nil)
	if err != nil {
		return "", err
	}
	if d.Passwords != nil {
		if user, pass, ok := d.Passwords.Lookup(req.URL.Hostname()); ok {
			req.SetBasicAuth(user, pass)
		}
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: HTTP %s", fa.URL, resp.Status)
	}

	filename := fa.Filename_
	if filename == "" {
		filename = path.Base(req.URL.Path)
	}
	destPath := filepath.Join(destDir, filepath.FromSlash(filename))

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer func() { _ = out.Close() }()

	writer := io.MultiWriter(out, digest)
	if _, err := io.Copy(writer, resp.Body); err != nil {
		return "", err
	}

	return filename, nil
}

// resolveViaIndex fills in fa.URL by scraping the simple-repository-API listing for projectName,
// reusing the pep503 client nearly verbatim, and picking the first non-yanked link whose
// filename matches fa.Filename_.
func (d *FileDownloader) resolveViaIndex(ctx context.Context, fa model.FileArtifact, projectName model.ProjectName) (model.FileArtifact, error) {
	client := pep503.Client{BaseURL: d.indexURL()}
	if d.Client != nil {
		client.HTTPClient = d.Client
	}

	links, err := client.ListPackageFiles(ctx, projectName.String())
	if err != nil {
		return model.FileArtifact{}, fmt.Errorf("resolving %s via %s: %w", projectName, d.indexURL(), err)
	}
	for _, link := range links {
		if pep592.IsYanked(link) {
			continue
		}
		if path.Base(link.HRef) == fa.Filename_ || link.Text == fa.Filename_ {
			fa.URL = link.HRef
			return fa, nil
		}
	}
	return model.FileArtifact{}, fmt.Errorf("no non-yanked index entry for %s matching filename %q", projectName, fa.Filename_)
}

func (d *FileDownloader) indexURL() string {
	if d.IndexURL != "" {
		return d.IndexURL
	}
	return pep503.PyPIBaseURL
}

func buildTLSConfig(cfg NetworkConfiguration) (*tls.Config, error) {
	if cfg.CABundle == "" && cfg.ClientCert == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", cfg.CABundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contained no usable certificates", cfg.CABundle)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientCert)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate %s: %w", cfg.ClientCert, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
