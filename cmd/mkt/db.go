package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Marketyard database",
		Long:  "Migrates all tables and seeds growers and products from the config file. Safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedGrowers(gormDB, cfg.Growers); err != nil {
		return err
	}
	if err := db.SeedProducts(gormDB, cfg.Products); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d growers and %d products\n", len(cfg.Growers), len(cfg.Products))
	return nil
}
