// Package parser turns raw metasearch XML into validated, ranked book records.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-eurobuch/models"
)

var amountPrefix = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`)

// ValidateBook ensures a record carries the fields required to be listed.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if b.Title == "" {
		return fmt.Errorf("book missing title")
	}
	if b.Link == "" {
		return fmt.Errorf("book missing link for %s", b.Title)
	}
	return nil
}

// ParseAmount converts a dealer price string to a number.
// The first comma is read as the decimal separator; a leading numeric prefix is
// accepted ("12,99 EUR" is 12.99). Empty or unparseable input yields 0.
func ParseAmount(text string) float64 {
	text = strings.Replace(text, ",", ".", 1)
	text = strings.TrimLeftFunc(text, unicode.IsSpace)

	number := amountPrefix.FindString(text)
	if number == "" {
		return 0
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}
