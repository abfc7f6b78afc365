// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package build implements invoking a PEP 517 build-backend hook in an isolated subprocess to
// turn a downloaded source tree into a wheel (or sdist), using dexec.CommandContext for external-
// tool invocation and temp-directory result capture, plus a hook-unavailable exit-code protocol
// matching pip's own build-backend driver (pep517/in_process/_in_process.py).
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/datawire/dlib/dexec"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/pexerr"
)

// HookUnavailableExitCode is the sentinel a build-backend driver subprocess exits with to mean
// "this backend does not implement the requested hook", matching pip's EX_TEMPFAIL convention.
const HookUnavailableExitCode = 75

// Hook names, passed to the backend driver subprocess as its first argument.
const (
	HookBuildSdist                   = "build_sdist"
	HookBuildWheel                   = "build_wheel"
	HookPrepareMetadataForBuildWheel = "prepare_metadata_for_build_wheel"
)

// Backend describes a project's PEP 517 build-backend invocation environment: the import path of
// the backend module and the requirements needed to provide it.
type Backend struct {
	BuildBackend string
	BackendPath  []string
	Requirements []string
}

// DefaultBackend is used for projects with no build-system specification, per PEP 517's fallback.
var DefaultBackend = Backend{
	BuildBackend: "setuptools.build_meta:__legacy__",
	Requirements: []string{"setuptools", "wheel"},
}

// Driver runs build-backend hook invocations. DriverCommand is the interpreter (and any fixed
// leading arguments) used to exec the hook-dispatch script; tests substitute a fake script.
type Driver struct {
	DriverCommand []string
}

// Request is one build task: the project name, the source tree to build, the backend and hook to
// run, and a scratch WorkDir. It carries no distribution target and no expected content digest;
// Driver only runs the hook.
type Request struct {
	ProjectName model.ProjectName
	SourceDir   string
	Backend     Backend
	Hook        string
	WorkDir     string // scratch directory for the result file and any backend scratch space
}

// Result is the hook's reported output: the relative path (within WorkDir) of the produced
// artifact.
type Result struct {
	ArtifactRelPath string
}

// ErrHookUnavailable is returned when the backend's driver subprocess exits 75: the caller should
// fall back to another build strategy.
var ErrHookUnavailable = errors.New("build: backend does not implement the requested hook")

// Run invokes req.Hook in an isolated subprocess, returning ErrHookUnavailable on exit 75 and a
// *pexerr.BuildError wrapping any other non-zero exit.
func (d *Driver) Run(ctx context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("build: preparing work directory: %w", err)
	}
	resultFile := filepath.Join(req.WorkDir, "result")

	args := append([]string{}, d.DriverCommand[1:]...)
	args = append(args,
		"--backend", req.Backend.BuildBackend,
		"--hook", req.Hook,
		"--source-dir", req.SourceDir,
		"--result-file", resultFile,
	)
	for _, p := range req.Backend.BackendPath {
		args = append(args, "--backend-path", p)
	}

	cmd := dexec.CommandContext(ctx, d.DriverCommand[0], args...)
	cmd.Dir = req.SourceDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == HookUnavailableExitCode {
			return Result{}, ErrHookUnavailable
		}
		exitCode := -1
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return Result{}, &pexerr.BuildError{
			ProjectName: req.ProjectName.String(),
			Hook:        req.Hook,
			ExitCode:    exitCode,
			Stderr:      stderr.String(),
		}
	}

	rel, err := os.ReadFile(resultFile)
	if err != nil {
		return Result{}, fmt.Errorf("build: reading result file for %s/%s: %w", req.ProjectName, req.Hook, err)
	}
	return Result{ArtifactRelPath: string(bytes.TrimSpace(rel))}, nil
}

// SelectBackend uses the source tree's declared build-system specification if present, else
// falls back to DefaultBackend.
func SelectBackend(declared *Backend) Backend {
	if declared != nil {
		return *declared
	}
	return DefaultBackend
}
