package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/datamigrate/migration"
	"github.com/GoCodeAlone/datamigrate/schema"
)

func newTestMigrationCmd(a *app) *cobra.Command {
	var (
		from, to, data string
		rollback       bool
		roundTrip      bool
	)
	cmd := &cobra.Command{
		Use:   "test-migration",
		Short: "Run one migration on sample data and show what changed",
		Example: `  migratectl test-migration --from 1.0.0-baseline --to 1.1.0-enhanced --data '{"user":{"id":"1","name":"Ana"}}'
  migratectl test-migration --from 1.0.0-baseline --to 1.1.0-enhanced --data @sample.json --round-trip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var doc schema.Document
			if err := readJSON(cmd.InOrStdin(), data, &doc); err != nil {
				return err
			}

			engine := a.manager.Engine()
			apply := engine.Migrate
			if rollback {
				apply = engine.Rollback
			}
			result, err := apply(ctx, from, to, doc)
			if err != nil {
				printMigrationError(out, err)
				return err
			}

			fmt.Fprintln(out, color.GreenString("Result:"))
			if err := writeJSON(out, result); err != nil {
				return err
			}
			printChanges(out, migration.DiffDocuments(doc, result))

			if roundTrip && !rollback {
				restored, err := engine.Rollback(ctx, from, to, result)
				if err != nil {
					printMigrationError(out, err)
					return err
				}
				if lost := migration.LostFields(doc, restored); len(lost) > 0 {
					fmt.Fprintf(out, "%s %s\n", color.YellowString("Round trip lost:"), strings.Join(lost, ", "))
				} else {
					fmt.Fprintln(out, color.GreenString("Round trip restored every field."))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source version (required)")
	cmd.Flags().StringVar(&to, "to", "", "Target version (required)")
	cmd.Flags().StringVar(&data, "data", "-", "Sample document: inline JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Apply the backward transform of the (from, to) script")
	cmd.Flags().BoolVar(&roundTrip, "round-trip", false, "Roll the result back and report lost fields")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		from, to, input, output string
		rollback                bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Migrate a JSON array of records and validate the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var records []schema.Document
			if err := readJSON(cmd.InOrStdin(), input, &records); err != nil {
				return err
			}

			progress := func(completed, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d", completed, total)
				if completed == total {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
			}

			tool := a.manager.Batch()
			target := to
			var results []migration.Result
			if rollback {
				results = tool.Rollback(ctx, records, from, to, progress)
				target = from
			} else {
				results = tool.Migrate(ctx, records, from, to, progress)
			}

			report, err := tool.ValidateResults(results, target)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Valid:   %s\n", color.GreenString("%d", report.ValidCount))
			fmt.Fprintf(out, "Invalid: %s\n", color.RedString("%d", report.InvalidCount))
			for _, e := range report.Errors {
				fmt.Fprintf(out, "  record %d: %s\n", e.Index, strings.Join(e.Errors, "; "))
			}

			if output != "" {
				migrated := make([]schema.Document, len(results))
				for i, r := range results {
					migrated[i] = r.Data
				}
				raw, err := json.MarshalIndent(migrated, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, raw, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
			}

			if report.InvalidCount > 0 {
				return fmt.Errorf("%d of %d record(s) invalid", report.InvalidCount, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source version (required)")
	cmd.Flags().StringVar(&to, "to", "", "Target version (required)")
	cmd.Flags().StringVar(&input, "input", "-", "JSON array of records: inline JSON, @file or - for stdin")
	cmd.Flags().StringVar(&output, "output", "", "Write migrated records (null for failures) to this file")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Apply backward transforms")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// readJSON decodes src, which is inline JSON, @path or - for stdin.
func readJSON(stdin io.Reader, src string, v any) error {
	var raw []byte
	var err error
	switch {
	case src == "-":
		raw, err = io.ReadAll(stdin)
	case strings.HasPrefix(src, "@"):
		raw, err = os.ReadFile(src[1:])
	default:
		raw = []byte(src)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

func printChanges(w io.Writer, changes []migration.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	fmt.Fprintln(w, "Changes:")
	for _, c := range changes {
		line := "  " + c.String()
		switch c.Kind {
		case migration.Added:
			line = color.GreenString(line)
		case migration.Removed:
			line = color.RedString(line)
		default:
			line = color.YellowString(line)
		}
		fmt.Fprintln(w, line)
	}
}

func printMigrationError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", color.RedString("Migration failed:"), err)
	var merr *migration.Error
	if errors.As(err, &merr) && merr.Payload != nil {
		fmt.Fprintln(w, "Rejected result:")
		_ = writeJSON(w, merr.Payload)
	}
}
