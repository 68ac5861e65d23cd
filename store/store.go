// Package store keeps a local SQLite history of searches and the offers they returned.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-eurobuch/isbn"
	"github.com/aluiziolira/go-eurobuch/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS searches (
	id             TEXT PRIMARY KEY,
	query          TEXT NOT NULL,
	term           TEXT NOT NULL,
	isbn_original  TEXT NOT NULL DEFAULT '',
	isbn_converted TEXT NOT NULL DEFAULT '',
	result_count   INTEGER NOT NULL,
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_searches_finished ON searches(finished_at);

CREATE TABLE IF NOT EXISTS offers (
	search_id  TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	rank       INTEGER NOT NULL,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	isbn       TEXT NOT NULL,
	price      REAL NOT NULL,
	shipping   REAL NOT NULL,
	dealer     TEXT NOT NULL,
	platform   TEXT NOT NULL,
	link       TEXT NOT NULL,
	condition  TEXT NOT NULL,
	PRIMARY KEY (search_id, rank)
);
CREATE INDEX IF NOT EXISTS idx_offers_isbn ON offers(isbn);
`

// ErrNilResult is returned by SaveSearch when given no result.
var ErrNilResult = errors.New("store: nil search result")

// Store is a SQLite-backed search history.
type Store struct {
	db *sql.DB
}

// SearchSummary is one row of the search history.
type SearchSummary struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Term       string    `json:"term"`
	Converted  bool      `json:"isbn_converted"`
	Count      int       `json:"count"`
	Cheapest   float64   `json:"cheapest,omitempty"` // zero when the search found nothing
	FinishedAt time.Time `json:"finished_at"`
}

// PricePoint is the cheapest offer for an ISBN in one past search.
type PricePoint struct {
	SearchID string    `json:"search_id"`
	At       time.Time `json:"at"`
	Total    float64   `json:"total"`
	Dealer   string    `json:"dealer"`
	Link     string    `json:"link"`
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSearch records a result and its ranked offers in one transaction.
// Saving the same search ID twice replaces the earlier copy.
func (s *Store) SaveSearch(ctx context.Context, result *models.SearchResult) (err error) {
	if result == nil {
		return ErrNilResult
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var original, converted string
	if result.Conversion != nil {
		original, converted = result.Conversion.Original, result.Conversion.Converted
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM searches WHERE id = ?`, result.ID); err != nil {
		return fmt.Errorf("replace search: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO searches (id, query, term, isbn_original, isbn_converted, result_count, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.Query, result.Term, original, converted, len(result.Books),
		result.StartTime.UnixNano(), result.EndTime.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert search: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO offers (search_id, rank, title, author, isbn, price, shipping, dealer, platform, link, condition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare offers: %w", err)
	}
	defer stmt.Close()

	for i, b := range result.Books {
		if _, err = stmt.ExecContext(ctx, result.ID, i+1, b.Title, b.Author, b.ISBN,
			b.Price, b.Shipping, b.Dealer, b.Platform, b.Link, b.Condition); err != nil {
			return fmt.Errorf("insert offer %d: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentSearches returns up to limit searches, newest first.
func (s *Store) RecentSearches(ctx context.Context, limit int) ([]SearchSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.query, s.term, s.isbn_converted, s.result_count, s.finished_at,
		       MIN(o.price + o.shipping)
		FROM searches s
		LEFT JOIN offers o ON o.search_id = s.id
		GROUP BY s.id
		ORDER BY s.finished_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	out := make([]SearchSummary, 0, limit)
	for rows.Next() {
		var (
			sum       SearchSummary
			converted string
			finished  int64
			cheapest  sql.NullFloat64
		)
		if err := rows.Scan(&sum.ID, &sum.Query, &sum.Term, &converted, &sum.Count, &finished, &cheapest); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		sum.Converted = converted != ""
		sum.Cheapest = cheapest.Float64
		sum.FinishedAt = time.Unix(0, finished)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate searches: %w", err)
	}
	return out, nil
}

// PriceHistory returns the cheapest offer for code in each past search, newest first.
// An ISBN-10 is looked up under its ISBN-13 form, which is what the API reports.
func (s *Store) PriceHistory(ctx context.Context, code string, limit int) ([]PricePoint, error) {
	if limit <= 0 {
		limit = 20
	}
	key := isbn.Normalize(code).Term()
	key = isbn.Clean(key)

	// SQLite fills the bare dealer/link columns from the row holding the MIN.
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.finished_at, MIN(o.price + o.shipping), o.dealer, o.link
		FROM offers o
		JOIN searches s ON s.id = o.search_id
		WHERE o.isbn = ?
		GROUP BY s.id
		ORDER BY s.finished_at DESC
		LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var (
			pt       PricePoint
			finished int64
		)
		if err := rows.Scan(&pt.SearchID, &finished, &pt.Total, &pt.Dealer, &pt.Link); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		pt.At = time.Unix(0, finished)
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return out, nil
}
