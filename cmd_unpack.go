// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sthagen/pantsbuild-pex/pkg/cliutil"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/install"
)

func init() {
	var destDir string

	cmd := &cobra.Command{
		Use:   "unpack [flags] IN_LAYERFILE",
		Short: "Extract a tar layer (as produced by 'install --export') onto disk",
		Long: "The reverse of 'install --export': reads a tarball in the OCI layer shape " +
			"pkg/ociinstall.WriteTarball produces and materializes it under --dest the same way " +
			"'install' materializes a freshly installed wheel, for a caller that already has a " +
			"packed environment from an earlier 'install --export' run and wants it back on disk.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			layer, err := OpenLayer(args[0])
			if err != nil {
				return err
			}
			files, err := install.Materialize(layer, destDir)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(flags.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&destDir, "dest", "", "Destination `DIRECTORY` to extract into")
	if err := cmd.MarkFlagRequired("dest"); err != nil {
		panic(err)
	}
	argparser.AddCommand(cmd)
}
