package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"property-scraper/db"
	"property-scraper/notify"
	"property-scraper/scheduler"
	"property-scraper/sheets"
	"property-scraper/web"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI and the job scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}

		store, err := db.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		env, err := initEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		notifier, err := notify.New(cfg.Telegram, fmt.Sprintf("http://localhost:%d", port))
		if err != nil {
			zap.L().Warn("telegram notifications disabled", zap.Error(err))
			notifier = notify.Nop{}
		}

		opts := web.Options{
			SpreadsheetURL: cfg.Sheets.SpreadsheetURL,
			RefreshSecs:    cfg.Server.PollIntervalSecs,
		}
		if cfg.Sheets.SpreadsheetURL != "" {
			writer, err := sheets.NewWriter(ctx, sheets.ExtractSpreadsheetID(cfg.Sheets.SpreadsheetURL), cfg.Sheets.CredentialsPath)
			if err != nil {
				zap.L().Warn("google sheets export disabled", zap.Error(err))
			} else {
				opts.Sheets = writer
			}
		}

		srv, err := web.NewServer(store, env.catalog, opts)
		if err != nil {
			return err
		}

		sched := scheduler.NewScheduler(
			store,
			env.instrumentJob(store),
			env.addressJob(store),
			notifier,
			time.Duration(cfg.Server.PollIntervalSecs)*time.Second,
		)
		sched.Start()
		defer sched.Stop()

		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
