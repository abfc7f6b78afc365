// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package model holds the core value types of the lock-driven resolver: pins, artifacts, locked
// requirements and resolves, lockfiles, and distribution targets.
package model

import (
	"fmt"

	"github.com/sthagen/pantsbuild-pex/pkg/python/pep440"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep503"
)

// ProjectName is a PEP 503 normalized project name: lowercase, with "-"/"_"/"." runs collapsed to
// a single "-".
type ProjectName string

func NewProjectName(raw string) ProjectName {
	return ProjectName(pep503.NormalizeProjectName(raw))
}

func (n ProjectName) String() string { return string(n) }

// Pin is a concrete project-name + version identifier.
type Pin struct {
	ProjectName ProjectName
	Version     pep440.Version
}

func (p Pin) String() string {
	return fmt.Sprintf("%s-%s", p.ProjectName, p.Version.String())
}

func (p Pin) Equal(o Pin) bool {
	return p.ProjectName == o.ProjectName && p.Version.String() == o.Version.String()
}
