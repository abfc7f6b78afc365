// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives the artifact store concurrently across a target's
// DownloadableArtifact set, bounded and with collected (not fail-fast) errors, using the same
// derror.MultiError aggregation pattern as the wheel installer's RECORD-verification loop.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/datawire/dlib/derror"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// MaxParallelDownloads is the hard ceiling on concurrent downloads, to avoid hostile hammering
// of package mirrors regardless of how large max_jobs is configured.
const MaxParallelDownloads = 10

// Store is the subset of store.Store's API the orchestrator needs, kept as a narrow interface so
// callers can substitute a fake in tests.
type Store interface {
	Store(ctx context.Context, artifact model.Artifact, pin model.Pin) (model.DownloadedArtifact, error)
}

// Result pairs a DownloadableArtifact with the DownloadedArtifact the store produced for it.
type Result struct {
	Downloadable model.DownloadableArtifact
	Downloaded   model.DownloadedArtifact
}

// failure records the pin and diagnostic of one failed download for the aggregated error; the
// artifact URL is not recorded as a field of its own.
type failure struct {
	pin   model.Pin
	cause error
}

func (f failure) Error() string {
	return fmt.Sprintf("%s: %v", f.pin, f.cause)
}

// Concurrency returns the bounded worker count for n artifacts and a caller-supplied max_jobs,
// as N = min(len(artifacts), min(MaxParallelDownloads, 4*maxJobs)).
func Concurrency(n, maxJobs int) int {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	limit := 4 * maxJobs
	if limit > MaxParallelDownloads {
		limit = MaxParallelDownloads
	}
	if n < limit {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Download drives store.Store across artifacts with Concurrency(len(artifacts), maxJobs) workers.
// Errors are collected, not propagated on first failure: a partial failure still leaves every
// successfully downloaded artifact cached, so retries benefit from earlier progress.
func Download(ctx context.Context, store Store, artifacts []model.DownloadableArtifact, maxJobs int) ([]Result, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}

	// Every g.Go closure below returns nil even on failure (failures are collected into errs
	// instead), so errgroup never cancels gctx early: one task's failure doesn't cancel its
	// peers -- downloads collect failures rather than cancel on the first one.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Concurrency(len(artifacts), maxJobs))

	results := make([]Result, len(artifacts))
	var mu sync.Mutex
	var errs derror.MultiError

	for i, da := range artifacts {
		i, da := i, da
		g.Go(func() error {
			downloaded, err := store.Store(gctx, da.Artifact, da.Pin)
			if err != nil {
				mu.Lock()
				errs = append(errs, failure{pin: da.Pin, cause: err})
				mu.Unlock()
				return nil // collected, not propagated -- peers keep running
			}
			results[i] = Result{Downloadable: da, Downloaded: downloaded}
			return nil
		})
	}
	_ = g.Wait() // workers never return non-nil; failures are collected in errs

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool {
			return errs[i].(failure).pin.String() < errs[j].(failure).pin.String()
		})
		return nil, errs
	}

	return results, nil
}
