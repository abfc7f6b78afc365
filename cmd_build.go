// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sthagen/pantsbuild-pex/pkg/cliutil"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/build"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

func init() {
	var projectName string
	var hook string
	var workDir string
	var buildBackend string
	var backendPath []string
	var driverCommand []string

	cmd := &cobra.Command{
		Use:   "build [flags] IN_SOURCE_DIR",
		Short: "Invoke a PEP 517 build-backend hook against a source tree",
		Long: "IN_SOURCE_DIR's declared (or default setuptools) build backend is driven through " +
			"--hook in an isolated subprocess, the way pip's own build-backend driver script " +
			"does, printing the produced artifact's path (relative to --work-dir) on success. " +
			"Exits non-zero with the backend's captured stderr on build failure, or reports " +
			"hook-unavailable distinctly so a caller can fall back to another strategy.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			driver := &build.Driver{DriverCommand: driverCommand}
			declared, err := build.LoadBuildSystem(args[0])
			if err != nil {
				return err
			}
			backend := build.SelectBackend(declared)
			if buildBackend != "" {
				backend = build.Backend{BuildBackend: buildBackend, BackendPath: backendPath}
			}

			result, err := driver.Run(flags.Context(), build.Request{
				ProjectName: model.NewProjectName(projectName),
				SourceDir:   args[0],
				Backend:     backend,
				Hook:        hook,
				WorkDir:     workDir,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(flags.OutOrStdout(), result.ArtifactRelPath)
			return err
		},
	}
	cmd.Flags().StringVar(&projectName, "project-name", "", "Project `NAME` being built")
	cmd.Flags().StringVar(&hook, "hook", build.HookBuildWheel,
		"Build-backend `HOOK` to invoke (build_wheel, build_sdist, prepare_metadata_for_build_wheel)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Scratch `DIRECTORY` for the result file and backend output")
	cmd.Flags().StringVar(&buildBackend, "build-backend", "", "Override the declared `BACKEND` import path")
	cmd.Flags().StringArrayVar(&backendPath, "backend-path", nil, "Prepend `PATH` to the backend's import search path")
	cmd.Flags().StringArrayVar(&driverCommand, "driver-command", nil,
		"The hook-dispatch `COMMAND` to exec, e.g. the interpreter plus a dispatch script path")
	for _, name := range []string{"project-name", "work-dir", "driver-command"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	argparser.AddCommand(cmd)
}
