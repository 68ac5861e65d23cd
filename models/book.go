// Package models defines data structures shared by the search, parser and export layers.
package models

import (
	"strings"
	"time"
)

// Book is one dealer offer extracted from a metasearch response.
// Absent attributes are empty strings or zero, never a separate "missing" state.
type Book struct {
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	ISBN      string  `json:"isbn"`
	Price     float64 `json:"price"`
	Shipping  float64 `json:"shipping"`
	Dealer    string  `json:"dealer"`
	Platform  string  `json:"platform"`
	Link      string  `json:"link"`
	Condition string  `json:"condition,omitempty"`
}

// TotalCost is the landed cost used for ranking: price plus shipping.
func (b Book) TotalCost() float64 {
	return b.Price + b.Shipping
}

// HasCondition reports whether the dealer supplied a condition.
func (b Book) HasCondition() bool {
	return b.Condition != ""
}

// OverviewURL returns the ISBN price overview page on host, or "" without an ISBN.
func (b Book) OverviewURL(host string) string {
	if b.ISBN == "" {
		return ""
	}
	return OverviewURL(host, b.ISBN)
}

// OverviewURL builds the ISBN-keyed overview page link.
func OverviewURL(host, isbn string) string {
	return strings.TrimSuffix(host, "/") + "/buch/isbn/" + isbn + ".html"
}

// ISBNConversion records the rewrite of an ISBN-10 search term.
type ISBNConversion struct {
	Original  string `json:"original"`
	Converted string `json:"converted"`
}

// SearchResult holds the outcome of a single search invocation.
type SearchResult struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Term         string          `json:"term"`
	Conversion   *ISBNConversion `json:"isbn_conversion,omitempty"`
	Books        []Book          `json:"books"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	RequestCount int             `json:"request_count"`
	RetryCount   int             `json:"retry_count"`
}

// Cheapest returns the first (lowest total) book of a ranked result.
func (r *SearchResult) Cheapest() (Book, bool) {
	if r == nil || len(r.Books) == 0 {
		return Book{}, false
	}
	return r.Books[0], true
}

// Offer is a ranked book tagged with the search that produced it.
type Offer struct {
	SearchID string    `json:"search_id"`
	Query    string    `json:"query"`
	Term     string    `json:"term"`
	Rank     int       `json:"rank"`
	Book     Book      `json:"book"`
	FoundAt  time.Time `json:"found_at"`
}

// Offers flattens a result into export rows, ranks starting at 1.
func (r *SearchResult) Offers() []*Offer {
	if r == nil {
		return nil
	}
	out := make([]*Offer, 0, len(r.Books))
	for i, book := range r.Books {
		out = append(out, &Offer{
			SearchID: r.ID,
			Query:    r.Query,
			Term:     r.Term,
			Rank:     i + 1,
			Book:     book,
			FoundAt:  r.EndTime,
		})
	}
	return out
}
