// Package isbn detects ISBN-10 search terms and rewrites them to ISBN-13.
package isbn

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-eurobuch/models"
)

const prefix978 = "978"

var (
	isbn10Pattern  = regexp.MustCompile(`^\d{9}[\dXx]$`)
	isbnLike       = regexp.MustCompile(`^(?:\d{9}[\dXx]|\d{13})$`)
	numericPattern = regexp.MustCompile(`^\d+$`)
)

// Clean removes hyphens and whitespace.
func Clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// IsISBN10 reports whether s, once cleaned, is nine digits followed by a digit or X.
func IsISBN10(s string) bool {
	return isbn10Pattern.MatchString(Clean(s))
}

// LooksLikeISBN reports whether s, once cleaned, has the shape of an ISBN-10 or ISBN-13.
func LooksLikeISBN(s string) bool {
	return isbnLike.MatchString(Clean(s))
}

// IsNumeric reports whether s, once cleaned, consists only of digits.
func IsNumeric(s string) bool {
	return numericPattern.MatchString(Clean(s))
}

// To13 converts an ISBN-10 to its 978-prefixed ISBN-13 form. The ISBN-10 check digit
// is discarded and a new one computed. Input that is not ten characters after
// cleaning, or whose first nine are not digits, is returned unchanged.
func To13(isbn10 string) string {
	clean := Clean(isbn10)
	if len(clean) != 10 {
		return isbn10
	}

	base := prefix978 + clean[:9]
	sum := 0
	for i := 0; i < len(base); i++ {
		c := base[i]
		if c < '0' || c > '9' {
			return isbn10
		}
		digit := int(c - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	check := (10 - sum%10) % 10
	return base + strconv.Itoa(check)
}

// Conversion is the outcome of normalizing a search term.
type Conversion struct {
	Input     string // the term as supplied
	Original  string // cleaned ISBN-10, set when Applied
	Converted string // ISBN-13, set when Applied
	Applied   bool
}

// Normalize rewrites query to ISBN-13 when it is a bare ISBN-10.
func Normalize(query string) Conversion {
	conv := Conversion{Input: query}
	clean := Clean(query)
	if !isbn10Pattern.MatchString(clean) {
		return conv
	}
	conv.Original = clean
	conv.Converted = To13(clean)
	conv.Applied = true
	return conv
}

// Term is the value to send upstream.
func (c Conversion) Term() string {
	if c.Applied {
		return c.Converted
	}
	return c.Input
}

// Model returns the conversion for a search result, or nil when nothing changed.
func (c Conversion) Model() *models.ISBNConversion {
	if !c.Applied {
		return nil
	}
	return &models.ISBNConversion{Original: c.Original, Converted: c.Converted}
}
