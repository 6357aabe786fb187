package main

import (
	"github.com/aretw0/audiencia/internal/cli"
	"github.com/spf13/cobra"
)

func newSnapshotCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored session snapshots",
		Long:  `List, inspect, and remove the session snapshots kept by the configured store.`,
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListSnapshots(cmd.Context(), e.app, cmd.OutOrStdout())
		},
	}

	inspect := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Print a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mermaid, _ := cmd.Flags().GetBool("mermaid")
			return cli.InspectSnapshot(cmd.Context(), e.app, args[0], mermaid, cmd.OutOrStdout())
		},
	}
	inspect.Flags().Bool("mermaid", false, "print the dialogue graph as a Mermaid flowchart")

	rm := &cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Remove one or more snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RemoveSnapshots(cmd.Context(), e.app, args, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(ls, inspect, rm)
	return cmd
}
