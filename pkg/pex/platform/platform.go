// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package platform implements pex's "--platform" string grammar (supplemented feature,
// SPEC_FULL.md §5, grounded on original_source/pex/platforms.py's Platform.create): parsing a
// canonical or abbreviated platform specifier into the pep425.Tag it denotes, so that a
// foreign-platform `--platform` flag can seed a model.DistributionTarget's supported tags without
// requiring a live interpreter of that platform.
package platform

import (
	"fmt"
	"strings"

	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
)

// Sep is the field separator pex platform strings use, matching Platform.SEP.
const Sep = "-"

// Platform is a parsed "<platform>-<impl>-<version>-<abi>" specifier.
//
// Canonical form: linux-x86_64-cp-37-cp37m
// Abbreviated form (CPython only, abi missing its "cp<version>" prefix): linux-x86_64-cp-37-m
type Platform struct {
	Plat    string
	Impl    string
	Version string
	ABI     string
}

// InvalidPlatformError reports a platform string that isn't well-formed.
type InvalidPlatformError struct {
	Raw string
}

func (e *InvalidPlatformError) Error() string {
	return fmt.Sprintf(
		"not a valid platform specifier: %q (want <platform>-<impl>-<version>-<abi>, "+
			"e.g. linux-x86_64-cp-37-cp37m)", e.Raw)
}

// Parse parses a pex platform string, normalizing the platform component's "-" and "." to "_"
// (matching _normalize_platform) and expanding the CPython abbreviated abi form (a bare suffix
// like "m" or "mu" without the "cp<version>" prefix) into its canonical form.
func Parse(raw string) (Platform, error) {
	lowered := strings.ToLower(raw)
	fields := strings.Split(lowered, Sep)
	if len(fields) < 4 {
		return Platform{}, &InvalidPlatformError{Raw: raw}
	}

	// rsplit(SEP, 3): the platform component may itself contain "-", so the last three fields are
	// impl/version/abi and everything before them is the platform.
	n := len(fields)
	plat := strings.Join(fields[:n-3], Sep)
	impl, version, abi := fields[n-3], fields[n-2], fields[n-1]

	if plat == "" || impl == "" || version == "" || abi == "" {
		return Platform{}, &InvalidPlatformError{Raw: raw}
	}
	plat = normalizePlatform(plat)

	interpreter := impl + version
	if impl == "cp" && !strings.HasPrefix(abi, interpreter) {
		abi = interpreter + abi
	}

	return Platform{Plat: plat, Impl: impl, Version: version, ABI: abi}, nil
}

func normalizePlatform(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}

// Interpreter returns the combined "<impl><version>" interpreter tag component, e.g. "cp37".
func (p Platform) Interpreter() string {
	return p.Impl + p.Version
}

// Tag returns the single pep425.Tag this platform specifier denotes directly; compatible tags
// beyond this exact one (e.g. manylinux variants, "none"-abi pure-Python tags) require consulting
// a real interpreter's compatibility database and are out of scope here, matching how
// original_source's Platform.supported_tags() must shell out to pip for the full list while
// Platform.tag gives just this one exact tag.
func (p Platform) Tag() pep425.Tag {
	return pep425.Tag{Python: p.Interpreter(), ABI: p.ABI, Platform: p.Plat}
}

// String reconstructs the canonical platform string.
func (p Platform) String() string {
	return strings.Join([]string{p.Plat, p.Impl, p.Version, p.ABI}, Sep)
}
