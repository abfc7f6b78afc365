// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package subset implements selecting the set of DownloadableArtifacts a DistributionTarget
// needs out of a LockedResolve, given root requirements, constraints, and marker evaluation.
package subset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/markers"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/pexerr"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/tagmatch"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep345"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
)

// requirement is a parsed PEP 508-ish requirement string: "name[specifier][; marker]".
type requirement struct {
	projectName model.ProjectName
	specifier   pep345.VersionSpecifier
	marker      markers.Marker
}

// parseRequirement splits a requirement string on its optional "; marker" suffix and optional
// version-specifier suffix, grounded on the same comma-separated-clause style pep345/pep440 use
// for their own specifier grammars.
func parseRequirement(raw string) (requirement, error) {
	name, rest, marker, err := splitMarker(raw)
	if err != nil {
		return requirement{}, err
	}

	name, specStr := splitSpecifier(name + rest)
	var spec pep345.VersionSpecifier
	if specStr != "" {
		spec, err = pep345.ParseVersionSpecifier(specStr)
		if err != nil {
			return requirement{}, fmt.Errorf("subset: parsing specifier in %q: %w", raw, err)
		}
	}

	return requirement{
		projectName: model.NewProjectName(strings.TrimSpace(name)),
		specifier:   spec,
		marker:      marker,
	}, nil
}

func splitMarker(raw string) (name, rest string, marker markers.Marker, err error) {
	head, markerStr, ok := strings.Cut(raw, ";")
	if !ok {
		return raw, "", nil, nil
	}
	markerStr = strings.TrimSpace(markerStr)
	if markerStr == "" {
		return head, "", nil, nil
	}
	m, err := markers.Parse(markerStr)
	if err != nil {
		return "", "", nil, fmt.Errorf("subset: parsing marker in %q: %w", raw, err)
	}
	return head, "", m, nil
}

// splitSpecifier splits "name>=1.0,<2.0" into ("name", ">=1.0,<2.0").
func splitSpecifier(s string) (name, spec string) {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if strings.ContainsRune("<>=!~", r) {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
		}
	}
	return s, ""
}

// Select filters root requirements by marker, transitively closes over
// dependencies whose markers evaluate true, enforce constraints, and pick the best artifact for
// each included project.
func Select(resolve model.LockedResolve, target model.DistributionTarget, rootRequirements, constraints []string) ([]model.DownloadableArtifact, error) {
	env := markerEnvironment(target)
	installer := pep425.Installer(target.SupportedTags)

	parsedConstraints, err := parseAll(constraints)
	if err != nil {
		return nil, err
	}
	constraintByName := make(map[model.ProjectName]requirement, len(parsedConstraints))
	for _, c := range parsedConstraints {
		constraintByName[c.projectName] = c
	}

	included := make(map[model.ProjectName]bool)
	var queue []model.ProjectName

	roots, err := parseAll(rootRequirements)
	if err != nil {
		return nil, err
	}
	for _, req := range roots {
		if req.marker != nil && !req.marker.Eval(env) {
			continue
		}
		if !included[req.projectName] {
			included[req.projectName] = true
			queue = append(queue, req.projectName)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		locked, ok := resolve.Find(name)
		if !ok {
			return nil, &pexerr.TargetUnsatisfiedError{Target: target.InterpreterIdentity + "/" + target.PlatformIdentity}
		}

		if err := checkConstraint(locked, constraintByName); err != nil {
			return nil, err
		}

		directDeps := []string{}
		if locked.DirectDependencies != nil {
			directDeps = locked.DirectDependencies.Items()
		}
		for _, depStr := range directDeps {
			dep, err := parseRequirement(depStr)
			if err != nil {
				return nil, err
			}
			if dep.marker != nil && !dep.marker.Eval(env) {
				continue
			}
			if !included[dep.projectName] {
				included[dep.projectName] = true
				queue = append(queue, dep.projectName)
			}
		}
	}

	names := make([]model.ProjectName, 0, len(included))
	for name := range included {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]model.DownloadableArtifact, 0, len(names))
	for _, name := range names {
		locked, ok := resolve.Find(name)
		if !ok {
			return nil, &pexerr.TargetUnsatisfiedError{Target: target.InterpreterIdentity + "/" + target.PlatformIdentity}
		}
		best, _, ok := tagmatch.Best(installer, locked.Artifacts())
		if !ok {
			return nil, &pexerr.TargetUnsatisfiedError{Target: target.InterpreterIdentity + "/" + target.PlatformIdentity}
		}
		out = append(out, model.DownloadableArtifact{Pin: locked.Pin, Artifact: best})
	}
	return out, nil
}

func checkConstraint(locked model.LockedRequirement, constraints map[model.ProjectName]requirement) error {
	constraint, ok := constraints[locked.Pin.ProjectName]
	if !ok || constraint.specifier == nil {
		return nil
	}
	if !constraint.specifier.Match(locked.Pin.Version) {
		return &pexerr.ConstraintViolation{
			ProjectName: locked.Pin.ProjectName.String(),
			Version:     locked.Pin.Version.String(),
			Constraint:  constraintString(constraint),
		}
	}
	return nil
}

func constraintString(r requirement) string {
	clauses := make([]string, 0, len(r.specifier))
	for _, c := range r.specifier {
		clauses = append(clauses, c.CmpOp.String()+c.Version.String())
	}
	return r.projectName.String() + strings.Join(clauses, ",")
}

func parseAll(raw []string) ([]requirement, error) {
	out := make([]requirement, 0, len(raw))
	for _, r := range raw {
		parsed, err := parseRequirement(r)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// markerEnvironment copies the target's recorded marker environment. It derives no entries of its
// own (no python_version or platform_system from the interpreter or platform), so a marker sees
// only the variables the target records.
func markerEnvironment(target model.DistributionTarget) markers.Environment {
	env := markers.Environment{}
	for k, v := range target.MarkerEnvironment {
		env[k] = v
	}
	return env
}

// ErrNoInstallableResolve is returned by SelectBestResolve when every resolve in a lockfile
// disqualifies itself for the given target (some requirement has no installable artifact at all).
var ErrNoInstallableResolve = fmt.Errorf("subset: no locked resolve is fully installable for this target")

// SelectBestResolve picks the LockedResolve out of resolves that best matches target, using the
// total ordering model.RankedLock.Less defines (ascending mean rank, tied resolves broken by
// platform-tag lexicographic order) over the ranks tagmatch.AverageRank computes -- the piece of
// glue between per-artifact ranking and a multi-resolve lockfile that nothing previously called.
func SelectBestResolve(resolves []model.LockedResolve, target model.DistributionTarget) (model.LockedResolve, error) {
	installer := pep425.Installer(target.SupportedTags)

	ranked := make([]model.RankedLock, 0, len(resolves))
	for _, resolve := range resolves {
		average, allInstallable := tagmatch.AverageRank(installer, resolve)
		if !allInstallable {
			continue
		}
		ranked = append(ranked, model.RankedLock{AverageRequirementRank: average, LockedResolve: resolve})
	}
	if len(ranked) == 0 {
		return model.LockedResolve{}, ErrNoInstallableResolve
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Less(ranked[j]) })
	return ranked[0].LockedResolve, nil
}
