package main

import (
	"github.com/spf13/cobra"

	"github.com/zerfoo/zskl/pkg/inspector"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.zmf>",
		Short: "Print a summary of a ZMF model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.logger.Debug("inspecting model", "file", args[0])
			return inspector.InspectFile(cmd.OutOrStdout(), args[0])
		},
	}
}
