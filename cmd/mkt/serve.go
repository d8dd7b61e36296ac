package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/dashboard"
	"github.com/zulandar/marketyard/internal/db"
	"github.com/zulandar/marketyard/internal/logging"
	"github.com/zulandar/marketyard/internal/session"
	"github.com/zulandar/marketyard/internal/stock"
	"github.com/zulandar/marketyard/internal/trigger"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noTrigger  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the recurring session trigger",
		Long:  "Serves the JSON API and alert stream, and runs the cron trigger that creates the next recurring session and activates due sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noTrigger)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&noTrigger, "no-trigger", false, "serve the API without running the cron trigger")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noTrigger bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if port <= 0 {
		port = cfg.Dashboard.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if !noTrigger {
		runner, err := trigger.New(gormDB, cfg, clock.System{}, log.Named("trigger"))
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	}
	g.Go(func() error {
		return dashboard.Start(ctx, dashboard.StartOpts{
			DB:      gormDB,
			Port:    port,
			Market:  session.ConfigFromMarket(cfg.Market),
			Catalog: stock.GormCatalog{},
			Clock:   clock.System{},
			Log:     log.Named("http"),
		})
	})

	err = g.Wait()
	log.Infow("shut down")
	return err
}
