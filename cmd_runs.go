package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"property-scraper/db"
	"property-scraper/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := db.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		runs, err := store.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Kind", "Status", "Types", "Dates", "Records", "Found", "Created"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.ID, r.Kind, r.Status,
				strings.Join(r.InstrumentTypes, ", "),
				r.DateRange(),
				r.TotalRecords, r.AddressesFound,
				r.CreatedAt.Local().Format(time.DateTime),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its progress log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := db.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		logs, err := store.GetProcessLogs(ctx, run.ID)
		if err != nil {
			return err
		}

		printRun(run)

		if len(logs) > 0 {
			fmt.Println()
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Time", "Stage", "Message", "Progress"})
			for _, l := range logs {
				t.AppendRow(table.Row{
					l.Timestamp.Local().Format(time.TimeOnly),
					l.Stage,
					l.Message,
					fmt.Sprintf("%.1f%%", l.ProgressPercentage),
				})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run with its logs and records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := db.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted run %s\n", args[0])
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func printRun(run *models.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"ID", run.ID},
		{"Kind", run.Kind},
		{"Status", run.Status},
		{"Types", strings.Join(run.InstrumentTypes, ", ")},
		{"Dates", run.DateRange()},
		{"Records", run.TotalRecords},
		{"Processed", run.RecordsProcessed},
		{"Addresses", run.AddressesFound},
		{"Success rate", fmt.Sprintf("%.1f%%", run.SuccessRate)},
	})
	if run.SourceRunID != "" {
		t.AppendRow(table.Row{"Source run", run.SourceRunID})
	}
	if run.SheetName != "" {
		t.AppendRow(table.Row{"Sheet", run.SheetName})
	}
	if run.ErrorMessage != "" {
		t.AppendRow(table.Row{"Error", run.ErrorMessage})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
