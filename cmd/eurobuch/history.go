package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/aluiziolira/go-eurobuch/report"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [isbn]",
		Short: "Show recent searches or the price history of an ISBN",
		Example: `  eurobuch history
  eurobuch history 9780441013593 -n 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.openHistory()
			if err != nil {
				return err
			}
			defer history.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				points, err := history.PriceHistory(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if len(points) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No recorded offers for %s.\n", args[0])
					return nil
				}
				fmt.Fprintln(tw, "WHEN\tCHEAPEST\tDEALER\tLINK")
				for _, pt := range points {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pt.At.Format("2006-01-02 15:04"), report.Euro(pt.Total), pt.Dealer, pt.Link)
				}
				return tw.Flush()
			}

			searches, err := history.RecentSearches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(searches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No searches recorded yet.")
				return nil
			}
			fmt.Fprintln(tw, "WHEN\tQUERY\tTERM\tRESULTS\tCHEAPEST")
			for _, s := range searches {
				cheapest := "-"
				if s.Count > 0 {
					cheapest = report.Euro(s.Cheapest)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.FinishedAt.Format("2006-01-02 15:04"), s.Query, s.Term, s.Count, cheapest)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "number", "n", 20, "Number of rows to show")

	return cmd
}
