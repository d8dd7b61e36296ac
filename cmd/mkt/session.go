package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
	"github.com/zulandar/marketyard/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Market session commands",
	}

	cmd.AddCommand(newSessionEnsureCmd())
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionActivateCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	return cmd
}

func newSessionEnsureCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the next recurring session if it does not exist",
		Long:  "Runs the recurring scheduler once. Calling it repeatedly never creates duplicates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			s, created, err := session.EnsureNextRecurringSession(gormDB, session.ConfigFromMarket(cfg.Market), time.Now())
			if err != nil {
				return err
			}
			verb := "Exists"
			if created {
				verb = "Created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s session %s on %s (%s-%s %s)\n",
				verb, s.ID, s.Date, s.StartTime, s.EndTime, s.Timezone)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		configPath string
		opts       session.CreateOpts
		rate       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a one-off session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if opts.Timezone == "" {
				opts.Timezone = cfg.Market.Timezone
			}
			if opts.Name == "" {
				opts.Name = cfg.Market.Name
			}
			if opts.StartTime == "" {
				opts.StartTime = cfg.Market.StartTime
			}
			if opts.EndTime == "" {
				opts.EndTime = cfg.Market.EndTime
			}
			if opts.Location == "" {
				opts.Location = cfg.Market.Location
			}
			if rate != "" {
				if opts.CommissionRate, err = parseDecimal("rate", rate); err != nil {
					return err
				}
			} else {
				opts.CommissionRate = decimal.NewFromFloat(*cfg.Market.CommissionRate).Round(2)
			}

			s, err := session.Create(gormDB, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s on %s\n", s.ID, s.Date)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Date, "date", "", "session date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "session name (default from config)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "session description")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location (default from config)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time HH:MM (default from config)")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time HH:MM (default from config)")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "", "timezone (default from config)")
	cmd.Flags().StringVar(&rate, "rate", "", "commission rate in percent (default from config)")
	cmd.MarkFlagRequired("date")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		filters    session.ListFilters
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			filters.Status = models.SessionStatus(status)
			sessions, err := session.List(gormDB, filters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tWINDOW\tSTATUS\tAUTO\tRATE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s-%s\t%s\t%v\t%s%%\n",
					s.ID, s.Date, s.StartTime, s.EndTime, s.Status, s.IsAutomatic, s.CommissionRate)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status (UPCOMING, ACTIVE, COMPLETED)")
	cmd.Flags().StringVar(&filters.From, "from", "", "earliest date YYYY-MM-DD")
	cmd.Flags().StringVar(&filters.To, "to", "", "latest date YYYY-MM-DD")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show session details and participations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			s, err := session.Get(gormDB, args[0])
			if err != nil {
				return err
			}
			parts, err := participation.ListBySession(gormDB, s.ID, "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", s.ID)
			fmt.Fprintf(out, "Name:        %s\n", s.Name)
			fmt.Fprintf(out, "Date:        %s %s-%s (%s)\n", s.Date, s.StartTime, s.EndTime, s.Timezone)
			fmt.Fprintf(out, "Location:    %s\n", dash(s.Location))
			fmt.Fprintf(out, "Status:      %s\n", s.Status)
			fmt.Fprintf(out, "Automatic:   %v\n", s.IsAutomatic)
			fmt.Fprintf(out, "Commission:  %s%%\n", s.CommissionRate)
			if len(parts) > 0 {
				fmt.Fprintln(out, "\nParticipations:")
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "  GROWER\tSTATUS\tCONFIRMED")
				for _, p := range parts {
					confirmed := "-"
					if p.ConfirmedAt != nil {
						confirmed = p.ConfirmedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "  %s\t%s\t%s\n", p.GrowerID, p.Status, confirmed)
				}
				w.Flush()
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newSessionActivateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Promote an UPCOMING session to ACTIVE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := session.Activate(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s is ACTIVE\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an UPCOMING session without confirmed growers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := session.Delete(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
