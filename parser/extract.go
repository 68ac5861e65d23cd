package parser

import (
	"regexp"

	"github.com/aluiziolira/go-eurobuch/models"
)

// bookElement matches one self-closing <Book .../> and captures its attribute text
// without the whitespace in front of "/>". Quoted values may contain a raw ">".
var bookElement = regexp.MustCompile(`<Book\s+((?:[^>"]|"[^"]*")*?)\s*/>`)

const (
	attrTitle     = "title"
	attrAuthor    = "author"
	attrISBN      = "isbn"
	attrPrice     = "price"
	attrPriceEUR  = "priceeur"
	attrShipping  = "versandkosten_eur"
	attrDealer    = "dealer"
	attrPlatform  = "platform"
	attrURL       = "url"
	attrCondition = "condition"
)

var attributePatterns = compileAttributes(
	attrTitle, attrAuthor, attrISBN, attrPrice, attrPriceEUR,
	attrShipping, attrDealer, attrPlatform, attrURL, attrCondition,
)

func compileAttributes(names ...string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(names))
	for _, name := range names {
		// Anchored on the start of the span or whitespace so "price" never
		// matches inside "listprice" and "url" never inside "imageurl".
		patterns[name] = regexp.MustCompile(`(?i)(?:^|\s)` + regexp.QuoteMeta(name) + `\s*=\s*"([^"]*)"`)
	}
	return patterns
}

// Stats describes one extraction run.
type Stats struct {
	Elements int // self-closing Book elements found
	Rejected int // elements dropped by ValidateBook
}

// Extract returns the valid books of xml in document order.
func Extract(xml string) ([]models.Book, Stats) {
	var stats Stats
	matches := bookElement.FindAllStringSubmatch(xml, -1)
	books := make([]models.Book, 0, len(matches))

	for _, match := range matches {
		stats.Elements++
		book := bookFromAttributes(match[1])
		if err := ValidateBook(&book); err != nil {
			stats.Rejected++
			continue
		}
		books = append(books, book)
	}
	return books, stats
}

// ParseBooks is Extract without the run statistics.
func ParseBooks(xml string) []models.Book {
	books, _ := Extract(xml)
	return books
}

func bookFromAttributes(span string) models.Book {
	price := attribute(span, attrPrice)
	if price == "" {
		price = attribute(span, attrPriceEUR)
	}

	return models.Book{
		Title:     attribute(span, attrTitle),
		Author:    attribute(span, attrAuthor),
		ISBN:      attribute(span, attrISBN),
		Price:     ParseAmount(price),
		Shipping:  ParseAmount(attribute(span, attrShipping)),
		Dealer:    attribute(span, attrDealer),
		Platform:  attribute(span, attrPlatform),
		Link:      attribute(span, attrURL),
		Condition: attribute(span, attrCondition),
	}
}

// attribute returns the decoded value of name in span, or "" when absent.
func attribute(span, name string) string {
	match := attributePatterns[name].FindStringSubmatch(span)
	if match == nil {
		return ""
	}
	return DecodeEntities(match[1])
}
