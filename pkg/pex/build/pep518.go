// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// pyprojectTOML is the subset of PEP 518's pyproject.toml schema this package cares about: the
// [build-system] table declaring the backend a source tree wants built with.
type pyprojectTOML struct {
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
		BackendPath  []string `toml:"backend-path"`
	} `toml:"build-system"`
}

// LoadBuildSystem reads projectDir/pyproject.toml's [build-system] table, the way
// pep_517.load_build_system resolves a source tree's declared backend before falling back to
// DefaultBackend. A missing pyproject.toml or missing build-backend key is not an error: both mean
// "undeclared," reported as a nil Backend so the caller falls back.
func LoadBuildSystem(projectDir string) (*Backend, error) {
	raw, err := os.ReadFile(filepath.Join(projectDir, "pyproject.toml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("build: reading %s: %w", filepath.Join(projectDir, "pyproject.toml"), err)
	}

	var parsed pyprojectTOML
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("build: parsing %s: %w", filepath.Join(projectDir, "pyproject.toml"), err)
	}
	if parsed.BuildSystem.BuildBackend == "" {
		return nil, nil
	}

	return &Backend{
		BuildBackend: parsed.BuildSystem.BuildBackend,
		BackendPath:  parsed.BuildSystem.BackendPath,
		Requirements: parsed.BuildSystem.Requires,
	}, nil
}
