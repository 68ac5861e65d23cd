package main

import (
	"fmt"

	"github.com/aluiziolira/go-eurobuch/isbn"
	"github.com/aluiziolira/go-eurobuch/models"
	"github.com/spf13/cobra"
)

func newISBNCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "isbn <isbn-10>",
		Short: "Convert an ISBN-10 to ISBN-13",
		Example: `  eurobuch isbn 3-16-148410-0
  eurobuch isbn 080442957X`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := isbn.Normalize(args[0])
			if !conv.Applied {
				return fmt.Errorf("%q is not an ISBN-10", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, conv.Converted)
			fmt.Fprintln(out, models.OverviewURL(a.cfg.SearchHost, conv.Converted))
			return nil
		},
	}
}
