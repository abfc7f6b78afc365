// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"sort"

	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
)

// LockedRequirement is a pin plus its ordered set of alternative artifacts and the requirement
// expressions of its direct dependencies (each possibly marker-qualified, e.g.
// "foo>=1; sys_platform == 'win32'").
type LockedRequirement struct {
	Pin                 Pin
	PrimaryArtifact     Artifact
	AdditionalArtifacts *OrderedSet[Artifact]
	DirectDependencies  *OrderedSet[string]
}

// Artifacts returns the primary artifact followed by the additional artifacts, the order ranking/subsetting
// rank artifacts in.
func (r LockedRequirement) Artifacts() []Artifact {
	var additional []Artifact
	if r.AdditionalArtifacts != nil {
		additional = r.AdditionalArtifacts.Items()
	}
	out := make([]Artifact, 0, 1+len(additional))
	out = append(out, r.PrimaryArtifact)
	out = append(out, additional...)
	return out
}

// LockedResolve is a complete set of locked requirements generated for a particular platform tag.
//
// Invariant: project names are unique within a resolve; SortedRequirements enforces the
// by-project-name ordering the data model requires.
type LockedResolve struct {
	PlatformTag        string
	LockedRequirements []LockedRequirement
}

// SortedRequirements returns the locked requirements ordered by project name, the canonical order
// required by the data model.
func (r LockedResolve) SortedRequirements() []LockedRequirement {
	out := make([]LockedRequirement, len(r.LockedRequirements))
	copy(out, r.LockedRequirements)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pin.ProjectName < out[j].Pin.ProjectName
	})
	return out
}

func (r LockedResolve) Find(name ProjectName) (LockedRequirement, bool) {
	for _, req := range r.LockedRequirements {
		if req.Pin.ProjectName == name {
			return req, true
		}
	}
	return LockedRequirement{}, false
}

// LockStyle enumerates how a Lockfile's set of LockedResolves relates to distribution targets.
type LockStyle string

const (
	LockStyleStrict        LockStyle = "strict"
	LockStyleSources       LockStyle = "sources"
	LockStyleCrossPlatform LockStyle = "cross_platform"
	LockStyleUniversal     LockStyle = "universal"
)

// Lockfile is the parsed form of the on-disk lock document.
//
// Hash/equality comparisons of a Lockfile should exclude Source, which just records where the
// document came from for diagnostics and isn't part of its resolved content.
type Lockfile struct {
	Style             LockStyle
	ResolverVersion    string
	Requirements       []string
	Constraints        []string
	AllowPrereleases   bool
	AllowWheels        bool
	AllowBuilds        bool
	PreferOlderBinary  bool
	UsePEP517          *bool
	BuildIsolation     bool
	Transitive         bool
	LockedResolves     []LockedResolve
	Source             string
}

// DistributionTarget is a (interpreter, platform, tag-vector, marker-environment) bundle
// describing what is being installed for.
type DistributionTarget struct {
	InterpreterIdentity string
	PlatformIdentity     string
	SupportedTags        []pep425.Tag // ordered best-first
	MarkerEnvironment    map[string]string
}

// RankedLock is the transient result of scoring a LockedResolve against a DistributionTarget.
type RankedLock struct {
	AverageRequirementRank float64
	LockedResolve          LockedResolve
}

// Less implements ascending-by-rank ordering, tie-broken by platform-tag lexicographic order.
func (r RankedLock) Less(o RankedLock) bool {
	if r.AverageRequirementRank != o.AverageRequirementRank {
		return r.AverageRequirementRank < o.AverageRequirementRank
	}
	return r.LockedResolve.PlatformTag < o.LockedResolve.PlatformTag
}

// DownloadableArtifact is produced by lock subsetting: one per included project, carrying
// the highest-ranked artifact for that requirement under the target in question.
type DownloadableArtifact struct {
	Pin      Pin
	Artifact Artifact
}

// DownloadedArtifact is the result of the artifact store materializing a DownloadableArtifact.
// Its lifetime is tied to the content-addressed cache; it is immutable once finalized.
type DownloadedArtifact struct {
	Path        string // absolute, inside the cache
	Fingerprint Fingerprint
}

// InstalledDistribution is the result of the install pipeline materializing a wheel tree into a
// per-distribution install root.
type InstalledDistribution struct {
	Target            DistributionTarget
	DistributionDir   string // absolute
	ProjectName       ProjectName
	Version           string
	RecordedFiles     []string // paths relative to DistributionDir, from the RECORD manifest
}

// InstalledEnvironment is the result of installing a whole resolved set of wheels for one
// DistributionTarget into a single shared root -- the merged-layer counterpart to
// InstalledDistribution, for callers building one venv-like tree rather than one directory per
// project.
type InstalledEnvironment struct {
	Target         DistributionTarget
	EnvironmentDir string // absolute
	Distributions  []Pin
	RecordedFiles  []string // paths relative to EnvironmentDir, from the merged layer
}
