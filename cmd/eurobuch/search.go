package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-eurobuch/api"
	"github.com/aluiziolira/go-eurobuch/models"
	"github.com/aluiziolira/go-eurobuch/report"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		details bool
		asJSON  bool
		save    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search offers by ISBN, title or author",
		Long: `Search sends the query to the metasearch API and prints the offers
ranked by total cost (price plus shipping). A bare ISBN-10 is converted to
ISBN-13 before searching.`,
		Example: `  eurobuch search 3-16-148410-0
  eurobuch search der prozess --details
  eurobuch search 9780441013593 --json --limit 25`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			client, err := a.newClient()
			if err != nil {
				return err
			}
			result, err := client.Search(cmd.Context(), query)
			if err != nil {
				return err
			}

			if save {
				history, err := a.openHistory()
				if err != nil {
					return err
				}
				defer history.Close()
				if err := history.SaveSearch(cmd.Context(), result); err != nil {
					slog.Error("save search history", slog.Any("error", err))
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(api.NewSearchResponse(result, a.cfg.SearchHost))
			}
			return printResult(out, result, a.cfg.SearchHost, details)
		},
	}

	cmd.Flags().BoolVarP(&details, "details", "d", false, "Print the full detail block for every offer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&save, "history", false, "Record the search in the history database")

	return cmd
}

func printResult(w io.Writer, result *models.SearchResult, host string, details bool) error {
	if c := result.Conversion; c != nil {
		fmt.Fprintf(w, "ISBN-10 converted: %s → %s\n\n", c.Original, c.Converted)
	}

	if len(result.Books) == 0 {
		fmt.Fprintln(w, "No results found.")
		if url, ok := report.FallbackURL(result.Query, host); ok {
			fmt.Fprintf(w, "Search on the Eurobuch website: %s\n", url)
		} else {
			fmt.Fprintln(w, "Try the Eurobuch website for more results.")
		}
		return nil
	}

	title, subtitle := report.Summary(result.Books)
	fmt.Fprintf(w, "%s  %s\n\n", title, subtitle)
	if err := report.WriteTable(w, result.Books); err != nil {
		return err
	}

	if details {
		for i, b := range result.Books {
			fmt.Fprintf(w, "\n[%d]\n%s\n", i+1, report.Details(b, host))
		}
	}
	return nil
}
