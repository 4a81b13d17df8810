package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"property-scraper/daterange"
	"property-scraper/export"
	"property-scraper/models"
	"property-scraper/web"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	scrapeTypes []string
	scrapeStart string
	scrapeEnd   string
	scrapeOut   string
	scrapeIn    string
)

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "Run Step 1 once and write the instruments to CSV or XLSX",
	Example: `  property-scraper instruments --types "Deed,Lien" --start 2025-09-01 --end 2025-09-10
  property-scraper instruments --types Deed --out deeds.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		start, err := daterange.Parse(scrapeStart)
		if err != nil {
			return err
		}
		end, err := daterange.Parse(scrapeEnd)
		if err != nil {
			return err
		}

		env, err := initEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		run := &models.Run{
			ID:              "cli",
			Kind:            models.RunKindInstruments,
			InstrumentTypes: scrapeTypes,
			StartDate:       start.Format(daterange.ClerkLayout),
			EndDate:         end.Format(daterange.ClerkLayout),
		}

		instruments, err := env.instrumentJob(consoleRecorder{}).Run(ctx, run)
		if err != nil {
			return err
		}

		out := scrapeOut
		if out == "" {
			out = filepath.Join(cfg.Export.OutputDir, export.FileName(export.KindInstruments, start.Format(daterange.ISOLayout), end.Format(daterange.ISOLayout), "csv"))
		}
		err = writeFile(out, func(w io.Writer) error {
			if isXLSX(out) {
				return export.WriteInstrumentsXLSX(w, instruments)
			}
			return export.WriteInstrumentsCSV(w, instruments)
		})
		if err != nil {
			return err
		}

		fmt.Printf("Found %d instruments\nWrote %s\n", len(instruments), out)
		return nil
	},
}

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "Run Step 2 on an instruments CSV and write the addresses found",
	Example: `  property-scraper addresses --in exports/instrument_data_2025-09-01_2025-09-10.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(scrapeIn)
		if err != nil {
			return eris.Wrap(err, "open instruments file")
		}
		instruments, err := export.ReadInstrumentsCSV(f)
		f.Close() //nolint:errcheck
		if err != nil {
			return err
		}
		if len(instruments) == 0 {
			return eris.Errorf("no instruments in %s", scrapeIn)
		}

		env, err := initEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		run := &models.Run{ID: "cli", Kind: models.RunKindAddresses}
		results, err := env.addressJob(consoleRecorder{}).Run(ctx, run, instruments)
		if err != nil {
			return err
		}

		out := scrapeOut
		if out == "" {
			base := strings.TrimSuffix(filepath.Base(scrapeIn), filepath.Ext(scrapeIn))
			base = strings.Replace(base, export.KindInstruments, export.KindResults, 1)
			if base == strings.TrimSuffix(filepath.Base(scrapeIn), filepath.Ext(scrapeIn)) {
				base = export.KindResults + "_" + base
			}
			out = filepath.Join(cfg.Export.OutputDir, base+".csv")
		}
		err = writeFile(out, func(w io.Writer) error {
			if isXLSX(out) {
				return export.WriteResultsXLSX(w, results)
			}
			return export.WriteResultsCSV(w, results)
		})
		if err != nil {
			return err
		}

		printResults(os.Stdout, results)
		fmt.Printf("\nFound addresses for %d of %d instruments\nWrote %s\n", len(results), len(instruments), out)
		return nil
	},
}

func init() {
	instrumentsCmd.Flags().StringSliceVar(&scrapeTypes, "types", nil, "instrument type names, comma separated (see config/instrument_types.yaml)")
	instrumentsCmd.Flags().StringVar(&scrapeStart, "start", web.DefaultStartDate, "start date (YYYY-MM-DD or MM/DD/YYYY)")
	instrumentsCmd.Flags().StringVar(&scrapeEnd, "end", web.DefaultEndDate, "end date (YYYY-MM-DD or MM/DD/YYYY)")
	instrumentsCmd.Flags().StringVar(&scrapeOut, "out", "", "output file, .csv or .xlsx (default under export.output_dir)")
	_ = instrumentsCmd.MarkFlagRequired("types")

	addressesCmd.Flags().StringVar(&scrapeIn, "in", "", "instruments CSV written by the instruments command")
	addressesCmd.Flags().StringVar(&scrapeOut, "out", "", "output file, .csv or .xlsx (default under export.output_dir)")
	_ = addressesCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(instrumentsCmd, addressesCmd)
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

// writeFile creates path (and its directory) and hands it to write
func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

// printResults renders address results as a console table
func printResults(w io.Writer, results []models.AddressResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No addresses found.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"FileNo", "Grantee", "Instrument Type", "Recording Date", "Property Address", "Source"})
	for _, r := range results {
		t.AppendRow(table.Row{r.FileNo, r.Grantee, r.InstrumentType, r.RecordingDate, r.PropertyAddress, r.Source})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
