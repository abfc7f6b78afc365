// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sthagen/pantsbuild-pex/pkg/cliutil"
	"github.com/sthagen/pantsbuild-pex/pkg/ociinstall"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/install"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
)

// wheelProjectVersion splits a wheel's "{distribution}-{version}-...-{python}-{abi}-{platform}.whl"
// filename into its distribution and version fields, per PEP 427 -- a simplified parse (it
// ignores the optional build-tag segment) good enough for deriving install-directory names.
func wheelProjectVersion(path string) (name, version string, err error) {
	base := strings.TrimSuffix(filepath.Base(path), ".whl")
	fields := strings.SplitN(base, "-", 3)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("install: %s: not a valid wheel filename", path)
	}
	return fields[0], fields[1], nil
}

func init() {
	var platformFile string
	var pythonCmd []string
	var platformString string
	var root string
	var asEnvironment bool
	var exportTarball string

	cmd := &cobra.Command{
		Use:   "install [flags] IN_WHEELFILES...",
		Short: "Install one or more wheels into a directory",
		Long: "Each wheel is installed via bdist.InstallWheel (entry-point script generation " +
			"plus RECORD tracking) and materialized onto disk. With --env, every wheel is " +
			"merged into one shared root (squash.Squash's whiteout-aware layer merge) instead " +
			"of one subdirectory per project, the shape a real virtualenv has. --export " +
			"additionally packs the result into a reproducible tarball via pkg/ociinstall.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			ctx := flags.Context()

			plat, err := resolvePlatform(ctx, platformFile, pythonCmd, platformString)
			if err != nil {
				return err
			}
			target, err := buildTarget(plat, nil)
			if err != nil {
				return err
			}
			if exportTarball != "" && !asEnvironment && len(args) > 1 {
				return fmt.Errorf("install: --export with more than one wheel requires --env, " +
					"since each wheel would otherwise get its own directory and only one can be exported")
			}

			installer := &install.Installer{Target: target, Platform: plat, Root: root}

			var distDir string
			var recordedFiles []string

			if asEnvironment {
				wheels := make([]install.WheelInstall, 0, len(args))
				for _, path := range args {
					name, version, err := wheelProjectVersion(path)
					if err != nil {
						return err
					}
					wheels = append(wheels, install.WheelInstall{
						ProjectName: model.NewProjectName(name),
						Version:     version,
						WheelPath:   path,
					})
				}
				env, err := installer.InstallEnvironment(ctx, root, wheels)
				if err != nil {
					return err
				}
				distDir, recordedFiles = env.EnvironmentDir, env.RecordedFiles
			} else {
				for _, path := range args {
					name, version, err := wheelProjectVersion(path)
					if err != nil {
						return err
					}
					dist, err := installer.Install(ctx, model.NewProjectName(name), version, path)
					if err != nil {
						return err
					}
					distDir, recordedFiles = dist.DistributionDir, append(recordedFiles, dist.RecordedFiles...)
				}
			}

			for _, f := range recordedFiles {
				fmt.Fprintln(flags.OutOrStdout(), f)
			}

			if exportTarball != "" {
				out, err := os.Create(exportTarball)
				if err != nil {
					return err
				}
				defer func() { _ = out.Close() }()
				dist := model.InstalledDistribution{Target: target, DistributionDir: distDir, RecordedFiles: recordedFiles}
				if err := ociinstall.WriteTarball(dist, ociinstall.PackOptions{}, out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&platformFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform")
	cmd.Flags().StringArrayVar(&pythonCmd, "python", nil,
		"Inspect a live interpreter `COMMAND` (e.g. --python python3) instead of --platform-file")
	cmd.Flags().StringVar(&platformString, "platform", "",
		"Target a foreign `PLATFORM` by its pex-style specifier (e.g. linux-x86_64-cp-37-cp37m) "+
			"instead of --platform-file/--python, with no bytecode compilation")
	cmd.Flags().StringVar(&root, "root", "", "Install root `DIRECTORY`")
	cmd.Flags().BoolVar(&asEnvironment, "env", false, "Merge every wheel into one shared root instead of one per project")
	cmd.Flags().StringVar(&exportTarball, "export", "", "Also write a reproducible tarball to `OUT_TARFILE`")
	if err := cmd.MarkFlagRequired("root"); err != nil {
		panic(err)
	}
	argparser.AddCommand(cmd)
}
