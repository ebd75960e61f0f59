package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/datamigrate/schema"
)

func newCheckpointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create, list, restore and delete record checkpoints",
		Long: `Checkpoints snapshot a set of records together with the current schema
version. Without --redis-addr they live only for the duration of one command.`,
	}
	cmd.AddCommand(
		newCheckpointCreateCmd(a),
		newCheckpointListCmd(a),
		newCheckpointRestoreCmd(a),
		newCheckpointDeleteCmd(a),
	)
	return cmd
}

func newCheckpointCreateCmd(a *app) *cobra.Command {
	var label, input string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot records at the current version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []schema.Document
			if err := readJSON(cmd.InOrStdin(), input, &records); err != nil {
				return err
			}
			cp, err := a.manager.Checkpoint(cmd.Context(), label, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created checkpoint %s (%d records at %s)\n", cp.ID, len(cp.Records), cp.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Checkpoint label")
	cmd.Flags().StringVar(&input, "input", "[]", "JSON array of records: inline JSON, @file or - for stdin")
	return cmd
}

func newCheckpointListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cps, err := a.manager.Checkpoints().List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, cps)
			}
			if len(cps) == 0 {
				fmt.Fprintln(out, "No checkpoints.")
				return nil
			}
			for _, cp := range cps {
				fmt.Fprintf(out, "%s  %s  %-20s %s\n", cp.ID, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Version, cp.Label)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newCheckpointRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Print a checkpoint's records and make its version current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := a.manager.RestoreCheckpoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cp.Records)
		},
	}
}

func newCheckpointDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Checkpoints().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted checkpoint %s\n", args[0])
			return nil
		},
	}
}
