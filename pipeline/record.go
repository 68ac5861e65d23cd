package pipeline

import (
	"strconv"
	"time"

	"github.com/aluiziolira/go-eurobuch/models"
)

// offerRecord is the flat export row shared by the CSV and Parquet writers.
type offerRecord struct {
	SearchID  string  `json:"search_id" parquet:"search_id"`
	Query     string  `json:"query" parquet:"query"`
	Term      string  `json:"search_term" parquet:"search_term"`
	Rank      int32   `json:"rank" parquet:"rank"`
	Title     string  `json:"title" parquet:"title"`
	Author    string  `json:"author" parquet:"author"`
	ISBN      string  `json:"isbn" parquet:"isbn"`
	Condition string  `json:"condition" parquet:"condition"`
	Price     float64 `json:"price" parquet:"price"`
	Shipping  float64 `json:"shipping" parquet:"shipping"`
	Total     float64 `json:"total" parquet:"total"`
	Dealer    string  `json:"dealer" parquet:"dealer"`
	Platform  string  `json:"platform" parquet:"platform"`
	Link      string  `json:"link" parquet:"link"`
	FoundAt   string  `json:"found_at" parquet:"found_at"`
}

var csvHeader = []string{
	"search_id", "query", "search_term", "rank", "title", "author", "isbn", "condition",
	"price", "shipping", "total", "dealer", "platform", "link", "found_at",
}

func newOfferRecord(o *models.Offer) offerRecord {
	return offerRecord{
		SearchID:  o.SearchID,
		Query:     o.Query,
		Term:      o.Term,
		Rank:      int32(o.Rank),
		Title:     o.Book.Title,
		Author:    o.Book.Author,
		ISBN:      o.Book.ISBN,
		Condition: o.Book.Condition,
		Price:     o.Book.Price,
		Shipping:  o.Book.Shipping,
		Total:     o.Book.TotalCost(),
		Dealer:    o.Book.Dealer,
		Platform:  o.Book.Platform,
		Link:      o.Book.Link,
		FoundAt:   o.FoundAt.UTC().Format(time.RFC3339),
	}
}

func (r offerRecord) csv() []string {
	return []string{
		r.SearchID,
		r.Query,
		r.Term,
		strconv.Itoa(int(r.Rank)),
		r.Title,
		r.Author,
		r.ISBN,
		r.Condition,
		formatAmount(r.Price),
		formatAmount(r.Shipping),
		formatAmount(r.Total),
		r.Dealer,
		r.Platform,
		r.Link,
		r.FoundAt,
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
