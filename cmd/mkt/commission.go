package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/commission"
)

func newCommissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "commission",
		Aliases: []string{"comm"},
		Short:   "Turnover and settlement commands",
	}

	cmd.AddCommand(newCommissionRecordCmd())
	cmd.AddCommand(newCommissionSummaryCmd())
	cmd.AddCommand(newCommissionCloseCmd())
	return cmd
}

func newCommissionRecordCmd() *cobra.Command {
	var configPath, sessionID, growerID, turnover, rate string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a grower's turnover for a session",
		Long:  "Records turnover and computes the commission. A turnover of 0 removes the record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseDecimal("turnover", turnover)
			if err != nil {
				return err
			}
			var override *decimal.Decimal
			if rate != "" {
				r, err := parseDecimal("rate", rate)
				if err != nil {
					return err
				}
				override = &r
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			rec, err := commission.RecordTurnover(gormDB, sessionID, growerID, amount, override)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rec == nil {
				fmt.Fprintf(out, "Removed turnover for grower %s\n", growerID)
				return nil
			}
			fmt.Fprintf(out, "Grower %s: turnover %s, commission %s at %s%%\n",
				rec.GrowerID, rec.Turnover.StringFixed(2), rec.CommissionAmount.StringFixed(2),
				rec.CustomCommissionRate.StringFixed(2))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&growerID, "grower", "", "grower ID (required)")
	cmd.Flags().StringVar(&turnover, "turnover", "", "turnover amount (required)")
	cmd.Flags().StringVar(&rate, "rate", "", "commission rate override in percent")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("grower")
	cmd.MarkFlagRequired("turnover")
	return cmd
}

func newCommissionSummaryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Show recorded turnover and commissions for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			sum, err := commission.Summarize(gormDB, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s (%s), default rate %s%%\n", sum.SessionID, sum.Status, sum.SessionRate.StringFixed(2))
			printLines(out, sum.Lines)
			fmt.Fprintf(out, "Total turnover: %s  Total commission: %s\n",
				sum.TotalTurnover.StringFixed(2), sum.TotalCommission.StringFixed(2))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newCommissionCloseCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Validate commissions and close a session",
		Long: `Shows what closing the session would do, then asks for confirmation.
Growers with turnover are validated and confirmed growers without turnover
are declined. Use --yes to skip the prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommissionClose(cmd, configPath, args[0], yes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "close without prompting")
	return cmd
}

func runCommissionClose(cmd *cobra.Command, configPath, sessionID string, yes bool) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	preview, err := commission.Validate(gormDB, sessionID, false)
	if err != nil {
		return err
	}
	printReport(out, preview)

	if !yes {
		ok, err := confirm(cmd.InOrStdin(), out, "Close this session?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	report, err := commission.Validate(gormDB, sessionID, true)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, report.Message)
	return nil
}

func printReport(out io.Writer, r *commission.Report) {
	fmt.Fprintf(out, "%s: %s\n", r.Outcome, r.Message)
	printLines(out, r.WithTurnover)
	for _, id := range r.WithoutTurnover {
		fmt.Fprintf(out, "  no turnover: %s (will be declined)\n", id)
	}
	fmt.Fprintf(out, "Total turnover: %s  Total commission: %s\n",
		r.TotalTurnover.StringFixed(2), r.TotalCommission.StringFixed(2))
}

func printLines(out io.Writer, lines []commission.GrowerLine) {
	if len(lines) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROWER\tTURNOVER\tRATE\tCOMMISSION")
	for _, l := range lines {
		rate := l.Rate.StringFixed(2) + "%"
		if l.CustomRate {
			rate += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			l.GrowerID, l.Turnover.StringFixed(2), rate, l.CommissionAmount.StringFixed(2))
	}
	w.Flush()
}
