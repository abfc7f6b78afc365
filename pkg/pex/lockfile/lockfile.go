// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package lockfile parses the on-disk JSON lockfile document into a model.Lockfile,
// resolving "${NAME}" placeholder tokens in artifact URLs against a caller-supplied path-mapping
// table before any artifact is handed to the rest of the pipeline.
package lockfile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/pexerr"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep440"
)

// document mirrors the on-disk JSON shape field-for-field; Parse converts it into model.Lockfile.
type document struct {
	Style             string    `json:"style"`
	ResolverVersion   string    `json:"resolver_version"`
	Requirements      []string  `json:"requirements"`
	Constraints       []string  `json:"constraints"`
	AllowPrereleases  bool      `json:"allow_prereleases"`
	AllowWheels       bool      `json:"allow_wheels"`
	AllowBuilds       bool      `json:"allow_builds"`
	PreferOlderBinary bool      `json:"prefer_older_binary"`
	UsePEP517         *bool     `json:"use_pep517"`
	BuildIsolation    bool      `json:"build_isolation"`
	Transitive        bool      `json:"transitive"`
	LockedResolves    []resolve `json:"locked_resolves"`
}

type resolve struct {
	PlatformTag        string        `json:"platform_tag"`
	LockedRequirements []requirement `json:"locked_requirements"`
}

type requirement struct {
	ProjectName         string     `json:"project_name"`
	Version             string     `json:"version"`
	PrimaryArtifact     artifact   `json:"artifact"`
	AdditionalArtifacts []artifact `json:"additional_artifacts"`
	DirectDependencies  []string   `json:"requires_dists"`
}

// artifact is a discriminated union on Kind ("file", "vcs", "local"), mirroring model.Artifact's
// three concrete variants.
type artifact struct {
	Kind      string `json:"kind"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	HexDigest string `json:"hex_digest,omitempty"`
	IsWheel   bool   `json:"is_wheel,omitempty"`
	VCSKind   string `json:"vcs_kind,omitempty"`
	Reference string `json:"reference,omitempty"`
	Directory string `json:"directory,omitempty"`
}

func (a artifact) toModel() (model.Artifact, error) {
	fp := model.Fingerprint{}
	if a.HexDigest != "" {
		fp = model.Fingerprint{Algorithm: a.Algorithm, HexDigest: a.HexDigest}
	}
	switch a.Kind {
	case "file":
		return model.FileArtifact{URL: a.URL, Filename_: a.Filename, Fingerprint: fp, IsWheel: a.IsWheel}, nil
	case "vcs":
		return model.VCSArtifact{VCSKind: model.VCSKind(a.VCSKind), URL: a.URL, Reference: a.Reference, Fingerprint: fp}, nil
	case "local":
		return model.LocalProjectArtifact{Directory: a.Directory, Fingerprint: fp}, nil
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
}

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Parse reads a lockfile document's raw bytes, resolving "${NAME}" placeholders in every
// artifact's URL/directory fields against pathMapping, and returns the parsed model.Lockfile with
// Source set to sourceName for diagnostics. An unresolved placeholder is a fatal
// *pexerr.LockParseError naming every unresolved token, not just the first.
func Parse(raw []byte, sourceName string, pathMapping map[string]string) (model.Lockfile, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, Cause: err}
	}

	unresolved := collectUnresolvedPlaceholders(raw, pathMapping)
	if len(unresolved) > 0 {
		return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, UnresolvedNames: unresolved}
	}

	resolves := make([]model.LockedResolve, 0, len(doc.LockedResolves))
	for _, r := range doc.LockedResolves {
		reqs := make([]model.LockedRequirement, 0, len(r.LockedRequirements))
		for _, req := range r.LockedRequirements {
			version, err := pep440.ParseVersion(req.Version)
			if err != nil {
				return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, Cause: fmt.Errorf("%s: %w", req.ProjectName, err)}
			}
			primary, err := resolvePlaceholders(req.PrimaryArtifact, pathMapping).toModel()
			if err != nil {
				return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, Cause: err}
			}
			additional := model.NewOrderedSet[model.Artifact]()
			for _, a := range req.AdditionalArtifacts {
				am, err := resolvePlaceholders(a, pathMapping).toModel()
				if err != nil {
					return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, Cause: err}
				}
				additional.Add(am)
			}
			reqs = append(reqs, model.LockedRequirement{
				Pin:                 model.Pin{ProjectName: model.NewProjectName(req.ProjectName), Version: *version},
				PrimaryArtifact:     primary,
				AdditionalArtifacts: additional,
				DirectDependencies:  model.NewOrderedSet(req.DirectDependencies...),
			})
		}
		resolves = append(resolves, model.LockedResolve{PlatformTag: r.PlatformTag, LockedRequirements: reqs})
	}

	if len(resolves) == 0 {
		return model.Lockfile{}, &pexerr.LockParseError{Source: sourceName, Cause: fmt.Errorf("lockfile declares no locked resolves")}
	}

	return model.Lockfile{
		Style:             model.LockStyle(doc.Style),
		ResolverVersion:   doc.ResolverVersion,
		Requirements:      doc.Requirements,
		Constraints:       doc.Constraints,
		AllowPrereleases:  doc.AllowPrereleases,
		AllowWheels:       doc.AllowWheels,
		AllowBuilds:       doc.AllowBuilds,
		PreferOlderBinary: doc.PreferOlderBinary,
		UsePEP517:         doc.UsePEP517,
		BuildIsolation:    doc.BuildIsolation,
		Transitive:        doc.Transitive,
		LockedResolves:    resolves,
		Source:            sourceName,
	}, nil
}

// resolvePlaceholders substitutes every "${NAME}" token in a's URL/Directory fields with its
// mapped path. Tokens absent from pathMapping are left untouched here; collectUnresolvedPlaceholders
// is what turns them into a fatal error, so the caller sees every unresolved name at once instead
// of failing on the first.
func resolvePlaceholders(a artifact, pathMapping map[string]string) artifact {
	a.URL = substitute(a.URL, pathMapping)
	a.Directory = substitute(a.Directory, pathMapping)
	return a
}

func substitute(s string, pathMapping map[string]string) string {
	if s == "" {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(token string) string {
		name := token[2 : len(token)-1]
		if path, ok := pathMapping[name]; ok {
			return path
		}
		return token
	})
}

// collectUnresolvedPlaceholders scans the raw document bytes for every "${NAME}" token and
// returns the sorted, de-duplicated set of names absent from pathMapping.
func collectUnresolvedPlaceholders(raw []byte, pathMapping map[string]string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderRe.FindAllSubmatch(raw, -1) {
		name := string(m[1])
		if _, ok := pathMapping[name]; !ok {
			seen[name] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsePathMapping parses a "NAME|PATH[|DESCRIPTION]" argument into a single
// pathMapping entry, enforcing that PATH is absolute.
func ParsePathMapping(arg string) (name, path string, err error) {
	parts := strings.SplitN(arg, "|", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("path mapping %q: want NAME|PATH[|DESCRIPTION]", arg)
	}
	name, path = parts[0], parts[1]
	if name == "" {
		return "", "", fmt.Errorf("path mapping %q: NAME must not be empty", arg)
	}
	if !strings.HasPrefix(path, "/") {
		return "", "", fmt.Errorf("path mapping %q: PATH must be absolute, got %q", arg, path)
	}
	return name, path, nil
}
