package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/marketyard/internal/stock"
)

func newStockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Stock validation request commands",
	}

	cmd.AddCommand(newStockSubmitCmd())
	cmd.AddCommand(newStockPendingCmd())
	cmd.AddCommand(newStockResolveCmd())
	return cmd
}

func newStockSubmitCmd() *cobra.Command {
	var (
		configPath, growerID, productID string
		stockFlag                       int
		price, note                     string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Propose a stock or price change for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			change := stock.Change{Note: note}
			if cmd.Flags().Changed("stock") {
				change.Stock = &stockFlag
			}
			if price != "" {
				p, err := parseDecimal("price", price)
				if err != nil {
					return err
				}
				change.Price = &p
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			req, err := stock.Submit(gormDB, growerID, productID, change)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted request %s (%s)\n", req.ID, req.Status)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&growerID, "grower", "", "grower ID (required)")
	cmd.Flags().StringVar(&productID, "product", "", "product ID (required)")
	cmd.Flags().IntVar(&stockFlag, "stock", 0, "proposed stock")
	cmd.Flags().StringVar(&price, "price", "", "proposed price")
	cmd.Flags().StringVar(&note, "note", "", "note for the reviewer")
	cmd.MarkFlagRequired("grower")
	cmd.MarkFlagRequired("product")
	return cmd
}

func newStockPendingCmd() *cobra.Command {
	var (
		configPath, growerID string
		grouped              bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending stock requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if grouped {
				alerts, err := stock.ListPendingGroupedByGrower(gormDB)
				if err != nil {
					return err
				}
				if len(alerts) == 0 {
					fmt.Fprintln(out, "No pending requests.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "GROWER\tREQUESTS\tPRODUCTS")
				for _, a := range alerts {
					fmt.Fprintf(w, "%s\t%d\t%d\n", a.GrowerID, a.PendingRequests, a.DistinctProducts)
				}
				w.Flush()
				return nil
			}

			reqs, err := stock.ListPending(gormDB, growerID)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(out, "No pending requests.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGROWER\tPRODUCT\tSTOCK\tPRICE\tNOTE")
			for _, r := range reqs {
				stockCol, priceCol := "-", "-"
				if r.ProposedStock != nil {
					stockCol = fmt.Sprintf("%d", *r.ProposedStock)
				}
				if r.ProposedPrice != nil {
					priceCol = r.ProposedPrice.StringFixed(2)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.GrowerID, r.ProductID, stockCol, priceCol, dash(r.Note))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&growerID, "grower", "", "only this grower's requests")
	cmd.Flags().BoolVar(&grouped, "grouped", false, "one line per grower")
	return cmd
}

func newStockResolveCmd() *cobra.Command {
	var (
		configPath, adminID, reason string
		approve, reject             bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>...",
		Short: "Approve or reject pending stock requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			decision := stock.Approve
			if reject {
				decision = stock.Reject
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			res, err := stock.BatchResolve(gormDB, stock.GormCatalog{}, args, decision, adminID, reason)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Resolved %d of %d request(s)\n", res.Resolved, len(args))
			for _, f := range res.Failed {
				fmt.Fprintf(out, "  %s: %s\n", f.ID, f.Reason)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d request(s) failed", len(res.Failed))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the requests")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the requests")
	cmd.Flags().StringVar(&adminID, "admin", "", "reviewing admin ID (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.MarkFlagRequired("admin")
	return cmd
}
