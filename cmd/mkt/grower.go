package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/grower"
)

func newGrowerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grower",
		Short: "Grower profile commands",
	}

	cmd.AddCommand(newGrowerListCmd())
	cmd.AddCommand(newGrowerSetRateCmd())
	return cmd
}

func newGrowerListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List growers and their commission overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			growers, err := grower.List(gormDB)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(growers) == 0 {
				fmt.Fprintln(out, "No growers found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRATE")
			for _, g := range growers {
				rate := "session"
				if g.CommissionRate != nil {
					rate = g.CommissionRate.StringFixed(2) + "%"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", g.ID, dash(g.Name), rate)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newGrowerSetRateCmd() *cobra.Command {
	var (
		configPath, rate string
		clearRate        bool
	)

	cmd := &cobra.Command{
		Use:   "set-rate <grower-id>",
		Short: "Set or clear a grower's commission override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearRate == (rate != "") {
				return fmt.Errorf("exactly one of --rate or --clear is required")
			}
			var value *decimal.Decimal
			if !clearRate {
				r, err := parseDecimal("rate", rate)
				if err != nil {
					return err
				}
				value = &r
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := grower.SetCommissionRate(gormDB, args[0], value); err != nil {
				return err
			}
			if value == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Grower %s now uses the session rate\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Grower %s rate set to %s%%\n", args[0], value.StringFixed(2))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&rate, "rate", "", "commission rate in percent")
	cmd.Flags().BoolVar(&clearRate, "clear", false, "remove the override")
	return cmd
}
