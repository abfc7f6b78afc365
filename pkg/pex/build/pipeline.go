// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/datawire/dlib/derror"
)

// Pipeline runs a set of build Requests under the same bounded-concurrency policy the download
// orchestrator uses, never running two requests sharing a (project, target) key at once. Requests
// for distinct projects may run in parallel.
type Pipeline struct {
	Driver *Driver
}

// KeyedRequest pairs a Request with the (project, target) key serializing it against its peers.
type KeyedRequest struct {
	Request
	TargetKey string
}

func (r KeyedRequest) key() string {
	return string(r.ProjectName) + "@" + r.TargetKey
}

// Run drives requests with maxJobs workers (scaled the same way orchestrator.Concurrency does),
// serializing same-key requests via a per-key mutex, and collecting failures instead of failing
// fast -- a build failure for one project must not abort builds already in flight for others.
func (p *Pipeline) Run(ctx context.Context, requests []KeyedRequest, maxJobs int) ([]Result, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	limit := concurrencyLimit(len(requests), maxJobs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var keyMu sync.Map // string -> *sync.Mutex
	lockFor := func(key string) *sync.Mutex {
		m, _ := keyMu.LoadOrStore(key, &sync.Mutex{})
		return m.(*sync.Mutex)
	}

	results := make([]Result, len(requests))
	var errMu sync.Mutex
	var errs derror.MultiError

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			mu := lockFor(req.key())
			mu.Lock()
			defer mu.Unlock()

			res, err := p.Driver.Run(gctx, req.Request)
			if err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s (%s): %w", req.ProjectName, req.Hook, err))
				errMu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return nil, errs
	}
	return results, nil
}

func concurrencyLimit(n, maxJobs int) int {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	limit := 4 * maxJobs
	const maxParallelBuilds = 10
	if limit > maxParallelBuilds {
		limit = maxParallelBuilds
	}
	if n < limit {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}
