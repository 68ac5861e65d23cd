package parser

import (
	"cmp"
	"slices"

	"github.com/aluiziolira/go-eurobuch/models"
)

// RankByTotalCost returns a copy of books ordered by ascending price plus shipping.
// Books with equal totals keep their extraction order.
func RankByTotalCost(books []models.Book) []models.Book {
	ranked := slices.Clone(books)
	if ranked == nil {
		ranked = []models.Book{}
	}
	slices.SortStableFunc(ranked, func(a, b models.Book) int {
		return cmp.Compare(a.TotalCost(), b.TotalCost())
	})
	return ranked
}
