// Package report renders ranked offers as plain text for terminals and clipboards.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aluiziolira/go-eurobuch/isbn"
	"github.com/aluiziolira/go-eurobuch/models"
)

// FewResults is the count below which Summary suggests checking the website.
const FewResults = 5

// Euro formats an amount with two decimals.
func Euro(v float64) string {
	return fmt.Sprintf("€%.2f", v)
}

// PriceRange spans the first and last total of a ranked list: "" when empty,
// a single amount for one offer, otherwise "€min - €max".
func PriceRange(books []models.Book) string {
	switch len(books) {
	case 0:
		return ""
	case 1:
		return Euro(books[0].TotalCost())
	default:
		return Euro(books[0].TotalCost()) + " - " + Euro(books[len(books)-1].TotalCost())
	}
}

// Summary returns the heading line and the price line for a ranked list.
// Both are empty when there are no offers.
func Summary(books []models.Book) (title, subtitle string) {
	rng := PriceRange(books)
	if rng == "" {
		return "", ""
	}
	title = fmt.Sprintf("Found %d results", len(books))
	if len(books) < FewResults {
		return title, rng + " • Tip: Check Eurobuch website for more offers"
	}
	return title, rng
}

// Details is the copyable text block for one offer.
func Details(b models.Book, host string) string {
	var sb strings.Builder
	sb.WriteString(b.Title)
	fmt.Fprintf(&sb, "\nAuthor: %s", orDefault(b.Author, "Unknown"))
	fmt.Fprintf(&sb, "\nISBN: %s", orDefault(b.ISBN, "N/A"))
	fmt.Fprintf(&sb, "\nCondition: %s", orDefault(b.Condition, "N/A"))
	fmt.Fprintf(&sb, "\nPrice: %s", Euro(b.Price))
	fmt.Fprintf(&sb, "\nShipping: %s", Euro(b.Shipping))
	fmt.Fprintf(&sb, "\nTotal: %s", Euro(b.TotalCost()))
	fmt.Fprintf(&sb, "\nDealer: %s", b.Dealer)
	fmt.Fprintf(&sb, "\nPlatform: %s", b.Platform)
	fmt.Fprintf(&sb, "\n\nDirect offer: %s", b.Link)
	if overview := b.OverviewURL(host); overview != "" {
		fmt.Fprintf(&sb, "\nEurobuch overview: %s", overview)
	}
	return sb.String()
}

// FallbackURL returns the website overview page for a numeric query that found
// nothing, so the user can continue on the site.
func FallbackURL(query, host string) (string, bool) {
	if !isbn.IsNumeric(query) {
		return "", false
	}
	return models.OverviewURL(host, isbn.Clean(query)), true
}

// WriteTable prints one aligned row per offer in ranked order.
func WriteTable(w io.Writer, books []models.Book) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTOTAL\tTITLE\tAUTHOR\tCONDITION\tDEALER\tPLATFORM")
	for i, b := range books {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			Euro(b.TotalCost()),
			truncate(b.Title, 48),
			truncate(orDefault(b.Author, "Unknown Author"), 28),
			orDefault(b.Condition, "-"),
			b.Dealer,
			b.Platform,
		)
	}
	return tw.Flush()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// truncate shortens display text only; records are never truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
