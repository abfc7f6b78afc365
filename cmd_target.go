// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/platform"
	"github.com/sthagen/pantsbuild-pex/pkg/python"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pyinspect"
)

// loadPlatform reads a YAML platform-description file (ConsoleShebang/GraphicalShebang/Scheme/
// UID/GID/UName/GName/PyCompile), used by every pexcore subcommand that needs to know what it is
// installing for.
func loadPlatform(path string) (python.Platform, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return python.Platform{}, err
	}
	var plat struct {
		python.Platform
		PyCompile []string
	}
	if err := yaml.Unmarshal(raw, &plat, yaml.DisallowUnknownFields); err != nil {
		return python.Platform{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(plat.PyCompile) > 0 {
		compiler, err := python.ExternalCompiler(plat.PyCompile...)
		if err != nil {
			return python.Platform{}, err
		}
		plat.Platform.PyCompile = compiler
	}
	return plat.Platform, nil
}

// loadPlatformDynamic inspects a live interpreter (invoked as cmdline) instead of requiring a
// hand-authored YAML file: it asks the interpreter itself for its ABI tags, version, and install
// scheme, and derives the console/graphical shebangs by resolving cmdline[0] (and its "-w"-suffixed
// sibling) on PATH, the way `python -m venv` picks shebangs for the scripts it generates.
func loadPlatformDynamic(ctx context.Context, cmdline []string) (python.Platform, error) {
	console, graphical, err := pyinspect.Shebangs(pyinspect.NativeFS{}, cmdline[0])
	if err != nil {
		return python.Platform{}, fmt.Errorf("resolving interpreter shebangs: %w", err)
	}
	info, err := pyinspect.Dynamic(ctx, cmdline...)
	if err != nil {
		return python.Platform{}, err
	}
	magic, err := base64.StdEncoding.DecodeString(info.MagicNumberB64)
	if err != nil {
		return python.Platform{}, fmt.Errorf("decoding interpreter magic number: %w", err)
	}

	uid := os.Getuid()
	gid := os.Getgid()
	uname, gname := "", ""
	if usr, err := user.Current(); err == nil {
		uname = usr.Username
		if grp, err := user.LookupGroupId(usr.Gid); err == nil {
			gname = grp.Name
		}
		if n, err := strconv.Atoi(usr.Uid); err == nil {
			uid = n
		}
		if n, err := strconv.Atoi(usr.Gid); err == nil {
			gid = n
		}
	}

	plat := python.Platform{
		ConsoleShebang:   console,
		GraphicalShebang: graphical,
		Scheme:           info.Scheme,
		UID:              uid,
		GID:              gid,
		UName:            uname,
		GName:            gname,
		VersionInfo:      &info.VersionInfo,
		MagicNumber:      magic,
		Tags:             info.Tags,
	}
	if err := plat.Init(); err != nil {
		return python.Platform{}, err
	}
	return plat, nil
}

// loadPlatformForeign turns a pex "--platform" specifier (e.g. "linux-x86_64-cp-37-cp37m") into a
// python.Platform carrying only the single pep425.Tag the string denotes: no shebangs, install
// scheme, or bytecode compiler, since none of those can be known without a live interpreter of
// that platform. This is the foreign-platform case spec.md §4.9 calls out: the wheel may still be
// installed, with bytecode compilation left disabled (plat.PyCompile stays nil).
func loadPlatformForeign(raw string) (python.Platform, error) {
	p, err := platform.Parse(raw)
	if err != nil {
		return python.Platform{}, err
	}
	return python.Platform{Tags: pep425.Installer{p.Tag()}}, nil
}

// resolvePlatform picks exactly one of a YAML --platform-file, a live --python interpreter
// command, or a foreign "--platform" specifier string as the source of truth for the target
// platform.
func resolvePlatform(ctx context.Context, platformFile string, pythonCmd []string, platformString string) (python.Platform, error) {
	given := 0
	for _, set := range []bool{platformFile != "", len(pythonCmd) > 0, platformString != ""} {
		if set {
			given++
		}
	}
	switch {
	case given > 1:
		return python.Platform{}, fmt.Errorf("--platform-file, --python, and --platform are mutually exclusive")
	case platformFile != "":
		return loadPlatform(platformFile)
	case len(pythonCmd) > 0:
		return loadPlatformDynamic(ctx, pythonCmd)
	case platformString != "":
		return loadPlatformForeign(platformString)
	default:
		return python.Platform{}, fmt.Errorf("one of --platform-file, --python, or --platform is required")
	}
}

// parseMarkers turns repeated "KEY=VALUE" flag values into a marker-environment map.
func parseMarkers(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--marker %q: expected KEY=VALUE", kv)
		}
		out[key] = value
	}
	return out, nil
}

// buildTarget assembles a model.DistributionTarget from a loaded platform and the marker
// environment overrides the caller supplied on the command line.
func buildTarget(plat python.Platform, markerFlags []string) (model.DistributionTarget, error) {
	env, err := parseMarkers(markerFlags)
	if err != nil {
		return model.DistributionTarget{}, err
	}
	identity := plat.ConsoleShebang
	if identity == "" {
		identity = "unknown-interpreter"
	}
	return model.DistributionTarget{
		InterpreterIdentity: identity,
		PlatformIdentity:    plat.Scheme.PlatLib,
		SupportedTags:       []pep425.Tag(plat.Tags),
		MarkerEnvironment:   env,
	}, nil
}
