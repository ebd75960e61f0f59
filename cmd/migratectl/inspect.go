package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newVersionsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List registered schema versions in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			versions := a.manager.Versions().Versions()
			if asJSON {
				return writeJSON(out, versions)
			}

			current := a.manager.Versions().Current()
			for _, v := range versions {
				marker := "  "
				if v.ID == current {
					marker = color.GreenString("* ")
				}
				var tags []string
				if v.Frozen {
					tags = append(tags, color.CyanString("frozen"))
				}
				if v.Metadata.BreakingChanges {
					tags = append(tags, color.YellowString("breaking"))
				}
				fmt.Fprintf(out, "%s%-20s %s", marker, v.ID, v.Metadata.Description)
				if len(tags) > 0 {
					fmt.Fprintf(out, " [%s]", strings.Join(tags, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry counts and recorded batch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := a.manager.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, st)
			}

			fmt.Fprintf(out, "Current version:   %s\n", st.CurrentVersion)
			fmt.Fprintf(out, "Versions:          %d (%d frozen)\n", st.TotalVersions, st.FrozenVersions)
			fmt.Fprintf(out, "Migrations:        %d\n", st.TotalMigrations)
			if st.ReplacedMigrations > 0 {
				fmt.Fprintf(out, "Replaced scripts:  %s\n", color.YellowString("%d", st.ReplacedMigrations))
			}
			fmt.Fprintf(out, "Checkpoints:       %d\n", st.Checkpoints)

			history := a.manager.History()
			if history == nil {
				return nil
			}
			applied, err := history.Applied(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "\nNo batch runs recorded.")
				return nil
			}
			fmt.Fprintln(out, "\nBatch runs:")
			for _, m := range applied {
				fmt.Fprintf(out, "  %s  %-8s %s -> %s  records=%d failed=%d checksum=%s\n",
					m.AppliedAt.Format("2006-01-02 15:04:05"), m.Direction, m.From, m.To, m.Records, m.Failed, m.Checksum)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report bootstrap errors and integrity issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			report := a.manager.CheckIntegrity()

			issues := len(a.init.Errors)
			for _, e := range a.init.Errors {
				fmt.Fprintf(out, "%s %s\n", color.RedString("bootstrap:"), e)
			}
			// Bootstrap already reports integrity issues; print the ones it
			// did not see.
			for _, issue := range report.Issues {
				if !containsSuffix(a.init.Errors, issue) {
					fmt.Fprintf(out, "%s %s\n", color.RedString("integrity:"), issue)
					issues++
				}
			}

			if issues > 0 {
				fmt.Fprintf(out, "%s (%d issue(s))\n", color.RedString("unhealthy"), issues)
				return fmt.Errorf("%d health issue(s) found", issues)
			}
			fmt.Fprintf(out, "%s: %d versions, %d migrations, current %s\n",
				color.GreenString("healthy"), a.init.Schemas, a.init.Migrations, a.manager.Versions().Current())
			return nil
		},
	}
}

func newResetBaselineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-baseline",
		Short: "Set the current version to the first registered version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.manager.ResetToBaseline()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current version reset to %s\n", v)
			return nil
		},
	}
}

func containsSuffix(list []string, suffix string) bool {
	for _, s := range list {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
