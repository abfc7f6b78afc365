// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/sthagen/pantsbuild-pex/pkg/cliutil"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/download"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/lockfile"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/orchestrator"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/store"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/subset"
)

func init() {
	var platformFile string
	var pythonCmd []string
	var platformString string
	var pathMappings []string
	var markerFlags []string
	var cacheDir string
	var maxJobs int

	cmd := &cobra.Command{
		Use:   "fetch [flags] IN_LOCKFILE.json",
		Short: "Resolve a lockfile for a target and download every selected artifact",
		Long: "Combines `resolve`'s artifact selection with a bounded concurrent download pass: " +
			"every selected artifact is fetched into --cache-dir's content-addressed store, " +
			"with partial failures collected rather than aborting the whole fetch.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			ctx := flags.Context()

			plat, err := resolvePlatform(ctx, platformFile, pythonCmd, platformString)
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

			artifactStore := store.New(cacheDir, &download.Dispatcher{})
			results, err := orchestrator.Download(ctx, artifactStore, selected, maxJobs)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(results)
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
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Content-addressed cache `DIRECTORY` to fetch into")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 1, "Requested concurrency; bounded by orchestrator.MaxParallelDownloads")
	if err := cmd.MarkFlagRequired("cache-dir"); err != nil {
		panic(err)
	}
	argparser.AddCommand(cmd)
}
