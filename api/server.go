// Package api exposes offer search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aluiziolira/go-eurobuch/isbn"
	"github.com/aluiziolira/go-eurobuch/models"
	"github.com/aluiziolira/go-eurobuch/report"
	"github.com/aluiziolira/go-eurobuch/search"
	"github.com/aluiziolira/go-eurobuch/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Searcher runs one metasearch query.
type Searcher interface {
	Search(ctx context.Context, query string) (*models.SearchResult, error)
}

// History persists and reads past searches. Optional.
type History interface {
	SaveSearch(ctx context.Context, result *models.SearchResult) error
	RecentSearches(ctx context.Context, limit int) ([]store.SearchSummary, error)
	PriceHistory(ctx context.Context, code string, limit int) ([]store.PricePoint, error)
}

// Options configures a Server.
type Options struct {
	Host     string               // marketplace host for overview links
	History  History              // nil disables /api/history and saving
	Registry *prometheus.Registry // nil disables /metrics
}

// Server routes HTTP requests to the searcher.
type Server struct {
	searcher Searcher
	opts     Options
	router   *chi.Mux
}

// NewServer builds the router.
func NewServer(searcher Searcher, opts Options) *Server {
	s := &Server{searcher: searcher, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", s.handleHealth)
	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/isbn/{isbn}", s.handleISBN)
		if opts.History != nil {
			r.Get("/history", s.handleRecent)
			r.Get("/history/{isbn}", s.handlePriceHistory)
		}
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// BookView is a Book with its derived total and overview link.
type BookView struct {
	models.Book
	Total       float64 `json:"total"`
	OverviewURL string  `json:"overview_url,omitempty"`
}

// SearchResponse is the JSON body of a search.
type SearchResponse struct {
	ID          string                 `json:"id"`
	Query       string                 `json:"query"`
	Term        string                 `json:"term"`
	Conversion  *models.ISBNConversion `json:"isbn_converted,omitempty"`
	Count       int                    `json:"count"`
	PriceRange  string                 `json:"price_range,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	FallbackURL string                 `json:"fallback_url,omitempty"`
	Books       []BookView             `json:"books"`
}

// NewSearchResponse shapes a result for JSON output, shared with the CLI.
func NewSearchResponse(result *models.SearchResult, host string) SearchResponse {
	resp := SearchResponse{
		ID:         result.ID,
		Query:      result.Query,
		Term:       result.Term,
		Conversion: result.Conversion,
		Count:      len(result.Books),
		PriceRange: report.PriceRange(result.Books),
		Books:      make([]BookView, 0, len(result.Books)),
	}
	_, resp.Summary = report.Summary(result.Books)
	if len(result.Books) == 0 {
		resp.FallbackURL, _ = report.FallbackURL(result.Query, host)
	}
	for _, b := range result.Books {
		resp.Books = append(resp.Books, BookView{
			Book:        b,
			Total:       b.TotalCost(),
			OverviewURL: b.OverviewURL(host),
		})
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	result, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("search request failed", slog.String("query", query), slog.Any("error", err))
		}
		writeError(w, status, err)
		return
	}

	if s.opts.History != nil {
		if err := s.opts.History.SaveSearch(r.Context(), result); err != nil {
			slog.Error("save search history", slog.String("id", result.ID), slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, NewSearchResponse(result, s.opts.Host))
}

func (s *Server) handleISBN(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "isbn")
	conv := isbn.Normalize(raw)

	resp := map[string]any{
		"input":     raw,
		"isbn10":    conv.Applied,
		"term":      conv.Term(),
		"isbn_like": isbn.LooksLikeISBN(raw),
	}
	if conv.Applied {
		resp["isbn13"] = conv.Converted
		resp["overview_url"] = models.OverviewURL(s.opts.Host, conv.Converted)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	searches, err := s.opts.History.RecentSearches(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, searches)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.opts.History.PriceHistory(r.Context(), chi.URLParam(r, "isbn"), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if points == nil {
		points = []store.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrQueryTooShort):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrMissingCredentials):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 20
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
