// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/sthagen/pantsbuild-pex/pkg/cliutil"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/lockfile"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/subset"
)

func init() {
	var platformFile string
	var pythonCmd []string
	var platformString string
	var pathMappings []string
	var markerFlags []string

	cmd := &cobra.Command{
		Use:   "resolve [flags] IN_LOCKFILE.json",
		Short: "Select the artifacts a target needs out of a lockfile",
		Long: "Given a pex-style JSON lockfile, pick the locked resolve that best matches the " +
			"target described by --platform-file, --python, or --platform, then select the " +
			"subset of that resolve's artifacts the lockfile's own requirements/constraints " +
			"pull in for that target, printing the result as YAML.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			plat, err := resolvePlatform(flags.Context(), platformFile, pythonCmd, platformString)
			if err != nil {
				return err
			}
			target, err := buildTarget(plat, markerFlags)
			if err != nil {
				return err
			}

			pathMapping := make(map[string]string, len(pathMappings))
			for _, raw := range pathMappings {
				name, path, err := lockfile.ParsePathMapping(raw)
				if err != nil {
					return err
				}
				pathMapping[name] = path
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			lock, err := lockfile.Parse(raw, args[0], pathMapping)
			if err != nil {
				return err
			}

			best, err := subset.SelectBestResolve(lock.LockedResolves, target)
			if err != nil {
				return err
			}

			selected, err := subset.Select(best, target, lock.Requirements, lock.Constraints)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(selected)
			if err != nil {
				return err
			}
			_, err = flags.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&platformFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform")
	cmd.Flags().StringArrayVar(&pythonCmd, "python", nil,
		"Inspect a live interpreter `COMMAND` (e.g. --python python3) instead of --platform-file")
	cmd.Flags().StringVar(&platformString, "platform", "",
		"Target a foreign `PLATFORM` by its pex-style specifier (e.g. linux-x86_64-cp-37-cp37m) "+
			"instead of --platform-file/--python, with no bytecode compilation")
	cmd.Flags().StringArrayVar(&pathMappings, "path-mapping", nil,
		"Resolve `NAME|PATH` lockfile placeholders of the form ${NAME}")
	cmd.Flags().StringArrayVar(&markerFlags, "marker", nil,
		"Set environment marker `KEY=VALUE` (e.g. sys_platform=linux) for requirement evaluation")
	argparser.AddCommand(cmd)
}
