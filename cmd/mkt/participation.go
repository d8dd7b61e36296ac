package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
)

func newParticipationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "participation",
		Aliases: []string{"part"},
		Short:   "Grower participation commands",
	}

	cmd.AddCommand(newParticipationSetCmd())
	cmd.AddCommand(newParticipationConfirmCmd())
	cmd.AddCommand(newParticipationUnseenCmd())
	cmd.AddCommand(newParticipationViewedCmd())
	return cmd
}

func newParticipationSetCmd() *cobra.Command {
	var configPath, sessionID, growerID, status string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a grower's participation status",
		Long:  "Sets the status to PENDING, CONFIRMED or DECLINED. VALIDATED is reserved for settlement.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			p, err := participation.Set(gormDB, sessionID, growerID,
				models.ParticipationStatus(strings.ToUpper(status)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Grower %s is %s for session %s\n", p.GrowerID, p.Status, p.SessionID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&growerID, "grower", "", "grower ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "PENDING, CONFIRMED or DECLINED (required)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("grower")
	cmd.MarkFlagRequired("status")
	return cmd
}

func newParticipationConfirmCmd() *cobra.Command {
	var (
		configPath, sessionID, growerID string
		products                        []string
	)

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a grower by submitting their product lines",
		Long: `Confirms the grower for the session and replaces their product lines.
Each --product is PRODUCT_ID:QUANTITY:PRICE, for example --product p-apples:20:2.50.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseProductLines(products)
			if err != nil {
				return err
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			p, err := participation.ConfirmViaProductSubmission(gormDB, growerID, sessionID, lines)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Grower %s is %s for session %s with %d product(s)\n",
				p.GrowerID, p.Status, p.SessionID, len(lines))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&growerID, "grower", "", "grower ID (required)")
	cmd.Flags().StringArrayVar(&products, "product", nil, "product line PRODUCT_ID:QUANTITY:PRICE (repeatable)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("grower")
	return cmd
}

// parseProductLines parses PRODUCT_ID:QUANTITY:PRICE values.
func parseProductLines(values []string) ([]participation.ProductLine, error) {
	lines := make([]participation.ProductLine, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("--product %q must be PRODUCT_ID:QUANTITY:PRICE", v)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("--product %q: quantity %q is not an integer", v, parts[1])
		}
		price, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("--product %q: price %q is not a number", v, parts[2])
		}
		lines = append(lines, participation.ProductLine{ProductID: parts[0], Quantity: qty, Price: price})
	}
	return lines, nil
}

func newParticipationUnseenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unseen",
		Short: "Count confirmations no admin has viewed yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			sum, err := participation.CountUnseenConfirmations(gormDB)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Unseen confirmations: %d\n", sum.Count)
			if sum.Count == 0 {
				return nil
			}
			ids := make([]string, 0, len(sum.PerSession))
			for id := range sum.PerSession {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tUNSEEN")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%d\n", id, sum.PerSession[id])
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newParticipationViewedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "viewed <session-id>",
		Short: "Mark a session's confirmations as viewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			n, err := participation.MarkViewed(gormDB, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d confirmation(s) as viewed\n", n)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
