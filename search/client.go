// Package search queries the eurobuch metasearch API and turns responses into ranked offers.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/aluiziolira/go-eurobuch/config"
	"github.com/aluiziolira/go-eurobuch/isbn"
	"github.com/aluiziolira/go-eurobuch/models"
	"github.com/aluiziolira/go-eurobuch/parser"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
)

// Keys stored on the per-request colly.Context.
const (
	ctxStart       = "start"
	ctxStatus      = "status"
	ctxBody        = "body"
	ctxContentType = "content_type"
	ctxKind        = "kind"
)

// kindIPLookup marks client IP lookups so they stay out of the metasearch metrics.
const kindIPLookup = "ip_lookup"

// Client wraps the colly collector, retry policy and IP lookup for the metasearch API.
// It is safe for concurrent use; each call carries its own colly.Context.
type Client struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     retryPolicy
	ips       *IPResolver
	Metrics   *Metrics

	requestCount int64
	handlersOnce sync.Once
}

// NewClient builds a client configured from cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	parsed, err := url.Parse(cfg.SearchHost)
	if err != nil {
		return nil, fmt.Errorf("parse search host: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("search host must include a host")
	}

	// MaxBodySize(0) lifts colly's 10 MiB cap, which truncates silently.
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(0),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		collector: collector,
		retry:     newRetryPolicy(cfg),
		Metrics:   NewMetrics(),
	}
	c.ips = NewIPResolver(cfg, c.lookupIP)
	c.configureHandlers()
	return c, nil
}

// SetTransport replaces the HTTP transport, e.g. with a mock in tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.collector.WithTransport(rt)
}

// SearchHost returns the configured marketplace host.
func (c *Client) SearchHost() string {
	return c.cfg.SearchHost
}

// Search runs one query: validation, ISBN normalization, fetch, extraction and ranking.
// Non-success HTTP responses are returned as errors and never parsed.
func (c *Client) Search(ctx context.Context, query string) (*models.SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if n := utf8.RuneCountInString(query); n < c.cfg.MinQueryLength {
		return nil, fmt.Errorf("%w: %q has %d characters, need at least %d", ErrQueryTooShort, query, n, c.cfg.MinQueryLength)
	}
	if !c.cfg.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	conv := isbn.Normalize(query)
	if conv.Applied {
		c.Metrics.IncConversions()
		slog.Info("isbn-10 converted",
			slog.String("original", conv.Original),
			slog.String("converted", conv.Converted),
		)
	}

	start := time.Now()
	clientIP := c.ips.Resolve(ctx)
	resp, err := c.fetch(ctx, QueryURL(c.cfg, conv.Term(), clientIP))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	books, stats := parser.Extract(decodeBody(resp.body, resp.contentType))
	c.Metrics.AddBooks(len(books), stats.Rejected)
	if stats.Rejected > 0 {
		slog.Debug("dropped incomplete offers",
			slog.String("term", conv.Term()),
			slog.Int("rejected", stats.Rejected),
			slog.Int("elements", stats.Elements),
		)
	}

	return &models.SearchResult{
		ID:           uuid.NewString(),
		Query:        query,
		Term:         conv.Term(),
		Conversion:   conv.Model(),
		Books:        parser.RankByTotalCost(books),
		StartTime:    start,
		EndTime:      time.Now(),
		RequestCount: resp.attempts,
		RetryCount:   resp.attempts - 1,
	}, nil
}

// Requests returns the number of metasearch requests issued so far. IP lookups are not counted.
func (c *Client) Requests() int64 {
	return atomic.LoadInt64(&c.requestCount)
}

type response struct {
	body        []byte
	contentType string
	status      int
	attempts    int
}

// fetch performs a GET with retries for transient failures.
// colly has no per-request context, so cancellation is honoured between attempts
// and each attempt is bounded by the request timeout.
func (c *Client) fetch(ctx context.Context, rawURL string) (*response, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.get(rawURL)
		if err == nil {
			resp.attempts = attempt
			return resp, nil
		}

		category := errorTypeLabel(err)
		c.Metrics.IncError(category)
		slog.Error("request error",
			slog.String("url", redactURL(rawURL)),
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if !c.retry.allow(attempt, err) {
			return nil, err
		}
		c.Metrics.IncRetries()
		if err := sleepContext(ctx, c.retry.backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// get issues a single metasearch request and returns the classified outcome.
func (c *Client) get(rawURL string) (*response, error) {
	return c.do(rawURL, "")
}

// lookupIP fetches the public address through the same collector without touching metrics.
func (c *Client) lookupIP(rawURL string) (*response, error) {
	return c.do(rawURL, kindIPLookup)
}

func (c *Client) do(rawURL, kind string) (*response, error) {
	reqCtx := colly.NewContext()
	if kind != "" {
		reqCtx.Put(ctxKind, kind)
	}
	err := c.collector.Request(http.MethodGet, rawURL, nil, reqCtx, nil)
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		return nil, classifyError(redactError(err), status)
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	return &response{
		body:        body,
		contentType: reqCtx.Get(ctxContentType),
		status:      status,
	}, nil
}

func (c *Client) configureHandlers() {
	c.handlersOnce.Do(func() {
		c.collector.OnRequest(func(r *colly.Request) {
			if isIPLookup(r.Ctx) {
				return
			}
			r.Ctx.Put(ctxStart, time.Now())
			current := atomic.AddInt64(&c.requestCount, 1)
			c.Metrics.IncRequest("started")
			slog.Debug("metasearch request",
				slog.Int64("requests", current),
				slog.String("url", redactURL(r.URL.String())),
			)
		})

		c.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			r.Ctx.Put(ctxBody, r.Body)
			if r.Headers != nil {
				r.Ctx.Put(ctxContentType, r.Headers.Get("Content-Type"))
			}
			if isIPLookup(r.Ctx) {
				return
			}
			c.Metrics.IncRequest("completed")
			if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
				c.Metrics.ObserveDuration(time.Since(start))
			}
		})

		c.collector.OnError(func(r *colly.Response, err error) {
			if r == nil || r.Ctx == nil {
				return
			}
			r.Ctx.Put(ctxStatus, r.StatusCode)
			if isIPLookup(r.Ctx) {
				return
			}
			c.Metrics.IncRequest("failed")
			if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
				c.Metrics.ObserveDuration(time.Since(start))
			}
		})
	})
}

func isIPLookup(ctx *colly.Context) bool {
	return ctx != nil && ctx.Get(ctxKind) == kindIPLookup
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
