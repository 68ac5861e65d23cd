package models

import (
	"testing"
	"time"
)

func TestBookTotalCost(t *testing.T) {
	b := Book{Price: 12.5, Shipping: 3.25}
	if got := b.TotalCost(); got != 15.75 {
		t.Fatalf("TotalCost() = %v, want 15.75", got)
	}
	if got := (Book{}).TotalCost(); got != 0 {
		t.Fatalf("zero book TotalCost() = %v", got)
	}
}

func TestBookOverviewURL(t *testing.T) {
	tests := []struct {
		name string
		isbn string
		host string
		want string
	}{
		{name: "with isbn", isbn: "9783161484100", host: "https://www.eurobuch.de", want: "https://www.eurobuch.de/buch/isbn/9783161484100.html"},
		{name: "trailing slash", isbn: "9783161484100", host: "https://www.eurobuch.de/", want: "https://www.eurobuch.de/buch/isbn/9783161484100.html"},
		{name: "no isbn", isbn: "", host: "https://www.eurobuch.de", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Book{ISBN: tt.isbn}).OverviewURL(tt.host); got != tt.want {
				t.Fatalf("OverviewURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBookHasCondition(t *testing.T) {
	if (Book{}).HasCondition() {
		t.Fatalf("empty condition reported as present")
	}
	if !(Book{Condition: "neu"}).HasCondition() {
		t.Fatalf("condition not reported")
	}
}

func TestSearchResultOffers(t *testing.T) {
	end := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := &SearchResult{
		ID:      "id-1",
		Query:   "3-16-148410-0",
		Term:    "9783161484100",
		Books:   []Book{{Title: "A", Price: 1}, {Title: "B", Price: 2}},
		EndTime: end,
	}

	offers := r.Offers()
	if len(offers) != 2 {
		t.Fatalf("offers = %d, want 2", len(offers))
	}
	for i, o := range offers {
		if o.Rank != i+1 || o.SearchID != "id-1" || o.Term != "9783161484100" || !o.FoundAt.Equal(end) {
			t.Fatalf("offer %d = %+v", i, o)
		}
	}

	cheapest, ok := r.Cheapest()
	if !ok || cheapest.Title != "A" {
		t.Fatalf("Cheapest() = %+v, %v", cheapest, ok)
	}

	var empty *SearchResult
	if _, ok := empty.Cheapest(); ok {
		t.Fatalf("nil result has no cheapest offer")
	}
	if empty.Offers() != nil {
		t.Fatalf("nil result should have no offers")
	}
}
