// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package tagmatch implements ranking artifacts against a DistributionTarget's supported
// tags, grounded directly on pkg/python/pep425 (Tag, Installer.Preference).
package tagmatch

import (
	"regexp"
	"strings"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
)

// NoMatchRank is returned by Rank when an artifact is not installable for the given
// installer at all -- strictly worse than any supported tag and worse than the sdist rank.
const NoMatchRank = -1

// sdistRank places a source distribution artifact one worse than the worst possible wheel rank,
// so a matching wheel is always preferred over building from sdist.
func sdistRank(installer pep425.Installer) int {
	return len(installer)
}

// Rank returns how preferred artifact is for installer: lower is better, 0 is the most preferred
// wheel tag, sdistRank(installer) for a non-wheel (sdist/VCS/local-project) artifact, and
// NoMatchRank if a wheel artifact's tag isn't supported at all.
func Rank(installer pep425.Installer, artifact model.Artifact) int {
	fa, ok := artifact.(model.FileArtifact)
	if !ok {
		// VCS and local-project artifacts are always built from source.
		return sdistRank(installer)
	}
	if !fa.IsWheel {
		return sdistRank(installer)
	}

	tag, ok := WheelTag(fa.Filename())
	if !ok {
		return NoMatchRank
	}
	pref := installer.Preference(tag)
	if pref > len(installer) {
		return NoMatchRank
	}
	return pref - 1
}

// wheelFilenameRe captures the {python}-{abi}-{platform} tag segment of a PEP 427 wheel filename:
// {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl
var wheelFilenameRe = regexp.MustCompile(`^[^-]+-[^-]+(?:-[^-]+)?-([^-]+)-([^-]+)-([^-]+)\.whl$`)

// WheelTag extracts the compressed pep425.Tag embedded in a wheel's filename.
func WheelTag(filename string) (pep425.Tag, bool) {
	m := wheelFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return pep425.Tag{}, false
	}
	return pep425.Tag{Python: m[1], ABI: m[2], Platform: m[3]}, true
}

// Best returns the single most-preferred artifact among candidates for installer, along with its
// rank. It returns ok=false if no candidate is installable at all.
func Best(installer pep425.Installer, candidates []model.Artifact) (best model.Artifact, rank int, ok bool) {
	rank = -1
	for _, c := range candidates {
		r := Rank(installer, c)
		if r == NoMatchRank {
			continue
		}
		if !ok || r < rank {
			best, rank, ok = c, r, true
		}
	}
	return best, rank, ok
}

// AverageRank computes the mean rank (the mean-of-ranks cross-requirement policy)
// of a resolve's requirements against installer, skipping requirements with no installable
// artifact at all (treated as disqualifying the whole resolve by the caller, not averaged in).
func AverageRank(installer pep425.Installer, resolve model.LockedResolve) (average float64, allInstallable bool) {
	var total int
	var count int
	for _, req := range resolve.LockedRequirements {
		_, rank, ok := Best(installer, req.Artifacts())
		if !ok {
			return 0, false
		}
		total += rank
		count++
	}
	if count == 0 {
		return 0, true
	}
	return float64(total) / float64(count), true
}

// NormalizePlatformTag lowercases a raw platform tag string, since pep425 tags compare
// case-insensitively (PEP 425). It leaves "-" and "." characters unchanged.
func NormalizePlatformTag(raw string) string {
	return strings.ToLower(raw)
}
