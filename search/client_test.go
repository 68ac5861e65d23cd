package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-eurobuch/config"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/text/encoding/charmap"
)

const testEndpoint = "https://search.test/extreq/meta/extquery.php"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SearchHost = "https://search.test"
	cfg.Platform = "partner"
	cfg.Password = "s3cret&x"
	cfg.ClientIP = "203.0.113.7"
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	cfg.Parallelism = 4
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	c.SetTransport(transport)
	return c, transport
}

const sampleResponse = `<?xml version="1.0" encoding="UTF-8"?>
<Books>
<Book title="Dune" author="Frank Herbert" isbn="9780441013593" price="18,50" versandkosten_eur="0" dealer="B" platform="eurobuch" url="https://shop.test/b" condition="used" />
<Book title="Dune" author="Frank Herbert" isbn="9780441013593" price="9.00" versandkosten_eur="3.00" dealer="A" platform="eurobuch" url="https://shop.test/a" />
<Book title="" url="https://shop.test/untitled" price="1.00" />
<Book title="Dune" author="Frank Herbert" priceeur="20" versandkosten_eur="5" dealer="C" platform="zvab" url="https://shop.test/c" />
</Books>`

func TestQueryURL(t *testing.T) {
	cfg := testConfig()
	cfg.SearchHost = "https://search.test/"
	cfg.ResultLimit = 25

	got := QueryURL(cfg, "Der Prozess", "203.0.113.7")
	want := testEndpoint +
		"?platform=partner&password=s3cret%26x&isbn=Der+Prozess&author=Der+Prozess&title=Der+Prozess" +
		"&mediatype=0&clientip=203.0.113.7&format=xml&maxresults=25"
	if got != want {
		t.Fatalf("QueryURL() =\n%s\nwant\n%s", got, want)
	}
}

func TestRedactURL(t *testing.T) {
	raw := QueryURL(testConfig(), "dune", "203.0.113.7")
	redacted := redactURL(raw)
	if strings.Contains(redacted, "s3cret") {
		t.Fatalf("password leaked: %s", redacted)
	}
	if !strings.Contains(redacted, "password=REDACTED") {
		t.Fatalf("expected masked password in %s", redacted)
	}
	if got := redactURL("https://api.test/?format=text"); got != "https://api.test/?format=text" {
		t.Fatalf("url without password changed: %s", got)
	}
}

func TestRetryPolicyAllowRespectsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	rp := newRetryPolicy(cfg)
	transient := ErrTimeout{Err: context.DeadlineExceeded}

	if !rp.allow(1, transient) {
		t.Fatalf("first retry should be allowed")
	}
	if !rp.allow(2, transient) {
		t.Fatalf("second retry should be allowed")
	}
	if rp.allow(3, transient) {
		t.Fatalf("third retry should not be allowed")
	}
	if rp.allow(1, ErrForbidden{Err: errors.New("Forbidden")}) {
		t.Fatalf("forbidden should never be retried")
	}
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond
	rp := newRetryPolicy(cfg)

	if got := rp.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("backoff(1) = %v, want 200ms", got)
	}
	if got := rp.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("backoff(2) = %v, want 400ms", got)
	}
	if got := rp.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4) = %v, want %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Bad Gateway"), statusCode: http.StatusBadGateway, expected: "server_error"},
		{name: "other status", err: errors.New("Gone"), statusCode: http.StatusGone, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestRedactErrorMasksURL(t *testing.T) {
	err := &url.Error{Op: "Get", URL: QueryURL(testConfig(), "dune", "203.0.113.7"), Err: errors.New("refused")}
	if msg := redactError(err).Error(); strings.Contains(msg, "s3cret") {
		t.Fatalf("password leaked: %s", msg)
	}
}

func TestSearchQueryTooShort(t *testing.T) {
	c, transport := newTestClient(t, testConfig())

	for _, query := range []string{"", "a", "ü"} {
		_, err := c.Search(context.Background(), query)
		if !errors.Is(err, ErrQueryTooShort) {
			t.Fatalf("Search(%q) error = %v, want ErrQueryTooShort", query, err)
		}
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestSearchMissingCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	c, transport := newTestClient(t, cfg)

	_, err := c.Search(context.Background(), "dune")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("error = %v, want ErrMissingCredentials", err)
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestSearchRanksOffers(t *testing.T) {
	c, transport := newTestClient(t, testConfig())

	var gotQuery url.Values
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.Query()
		return httpmock.NewStringResponse(http.StatusOK, sampleResponse), nil
	})

	result, err := c.Search(context.Background(), "Dune")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	for key, want := range map[string]string{
		"platform":   "partner",
		"password":   "s3cret&x",
		"isbn":       "Dune",
		"author":     "Dune",
		"title":      "Dune",
		"mediatype":  "0",
		"clientip":   "203.0.113.7",
		"format":     "xml",
		"maxresults": "10",
	} {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}

	if result.ID == "" {
		t.Fatalf("expected search id")
	}
	if result.Conversion != nil {
		t.Fatalf("unexpected conversion %+v", result.Conversion)
	}
	if result.RequestCount != 1 || result.RetryCount != 0 {
		t.Fatalf("requests=%d retries=%d, want 1/0", result.RequestCount, result.RetryCount)
	}
	if len(result.Books) != 3 {
		t.Fatalf("books = %d, want 3", len(result.Books))
	}

	dealers := []string{result.Books[0].Dealer, result.Books[1].Dealer, result.Books[2].Dealer}
	if strings.Join(dealers, ",") != "A,B,C" {
		t.Fatalf("order = %v, want [A B C]", dealers)
	}
	if got := result.Books[1].Price; got != 18.5 {
		t.Fatalf("comma price = %v, want 18.5", got)
	}
	if got := result.Books[2].Price; got != 20 {
		t.Fatalf("priceeur fallback = %v, want 20", got)
	}

	if got := testutil.ToFloat64(c.Metrics.BooksExtractedTotal); got != 3 {
		t.Fatalf("extracted metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Metrics.BooksRejectedTotal); got != 1 {
		t.Fatalf("rejected metric = %v, want 1", got)
	}
}

func TestSearchConvertsISBN10(t *testing.T) {
	c, transport := newTestClient(t, testConfig())

	var gotISBN string
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		gotISBN = req.URL.Query().Get("isbn")
		return httpmock.NewStringResponse(http.StatusOK, "<Books></Books>"), nil
	})

	result, err := c.Search(context.Background(), "3-16-148410-0")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotISBN != "9783161484100" {
		t.Fatalf("isbn param = %q, want 9783161484100", gotISBN)
	}
	if result.Conversion == nil || result.Conversion.Original != "3161484100" || result.Conversion.Converted != "9783161484100" {
		t.Fatalf("conversion = %+v", result.Conversion)
	}
	if result.Query != "3-16-148410-0" || result.Term != "9783161484100" {
		t.Fatalf("query/term = %q/%q", result.Query, result.Term)
	}
	if len(result.Books) != 0 || result.Books == nil {
		t.Fatalf("expected empty non-nil books, got %#v", result.Books)
	}
	if got := testutil.ToFloat64(c.Metrics.ConversionsTotal); got != 1 {
		t.Fatalf("conversions metric = %v, want 1", got)
	}
}

func TestSearchHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "server_error"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			c, transport := newTestClient(t, testConfig())
			transport.RegisterResponder("GET", testEndpoint, httpmock.NewStringResponder(tt.status, sampleResponse))

			result, err := c.Search(context.Background(), "dune")
			if err == nil {
				t.Fatalf("expected error, got %d books", len(result.Books))
			}
			if !strings.HasPrefix(err.Error(), "search failed:") {
				t.Fatalf("error = %q, want search failed prefix", err)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("type = %q, want %q (err=%v)", got, tt.expected, err)
			}
			if got := testutil.ToFloat64(c.Metrics.ErrorsTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("error metric = %v, want 1", got)
			}
		})
	}
}

func TestSearchServerErrorCarriesStatus(t *testing.T) {
	c, transport := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", testEndpoint, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := c.Search(context.Background(), "dune")
	var status ErrHTTPStatus
	if !errors.As(err, &status) {
		t.Fatalf("error = %v, want ErrHTTPStatus", err)
	}
	if status.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", status.Code)
	}
	if !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("error = %q, want HTTP 503", err)
	}
}

func TestSearchRetriesTransientFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	c, transport := newTestClient(t, cfg)

	var calls int32
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, sampleResponse), nil
	})

	result, err := c.Search(context.Background(), "dune")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.RequestCount != 2 || result.RetryCount != 1 {
		t.Fatalf("requests=%d retries=%d, want 2/1", result.RequestCount, result.RetryCount)
	}
	if got := testutil.ToFloat64(c.Metrics.RetriesTotal); got != 1 {
		t.Fatalf("retries metric = %v, want 1", got)
	}
	if len(result.Books) != 3 {
		t.Fatalf("books = %d, want 3", len(result.Books))
	}
}

func TestSearchGivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	c, transport := newTestClient(t, cfg)
	transport.RegisterResponder("GET", testEndpoint, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	if _, err := c.Search(context.Background(), "dune"); err == nil {
		t.Fatalf("expected error")
	}
	if n := transport.GetTotalCallCount(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestSearchCanceledContext(t *testing.T) {
	c, transport := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", testEndpoint, httpmock.NewStringResponder(http.StatusOK, sampleResponse))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, "dune")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("calls = %d, want 0", n)
	}
}

func TestSearchDecodesLatin1(t *testing.T) {
	c, transport := newTestClient(t, testConfig())

	body, err := charmap.ISO8859_1.NewEncoder().String(`<Book title="Über Bücher" author="Müller" price="5" url="https://shop.test/m" />`)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/xml; charset=ISO-8859-1")
		return resp, nil
	})

	result, err := c.Search(context.Background(), "Müller")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Books) != 1 {
		t.Fatalf("books = %d, want 1", len(result.Books))
	}
	if result.Books[0].Title != "Über Bücher" || result.Books[0].Author != "Müller" {
		t.Fatalf("decoded = %q / %q", result.Books[0].Title, result.Books[0].Author)
	}
}

func TestSearchConcurrent(t *testing.T) {
	c, transport := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		term := req.URL.Query().Get("title")
		xml := fmt.Sprintf(`<Book title="%s" price="1" url="https://shop.test/%s" />`, term, term)
		return httpmock.NewStringResponse(http.StatusOK, xml), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			term := fmt.Sprintf("term%02d", i)
			result, err := c.Search(context.Background(), term)
			if err != nil {
				errs <- err
				return
			}
			if len(result.Books) != 1 || result.Books[0].Title != term {
				errs <- fmt.Errorf("%s: got %+v", term, result.Books)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := c.Requests(); got != 16 {
		t.Fatalf("requests = %d, want 16", got)
	}
}

func TestIPResolver(t *testing.T) {
	const lookup = "https://ip.test/"

	t.Run("static", func(t *testing.T) {
		c, transport := newTestClient(t, testConfig())
		if got := c.ips.Resolve(context.Background()); got != "203.0.113.7" {
			t.Fatalf("ip = %q", got)
		}
		if n := transport.GetTotalCallCount(); n != 0 {
			t.Fatalf("calls = %d, want 0", n)
		}
	})

	t.Run("lookup cached", func(t *testing.T) {
		cfg := testConfig()
		cfg.ClientIP = ""
		cfg.IPLookupURL = lookup
		c, transport := newTestClient(t, cfg)
		transport.RegisterResponder("GET", lookup, httpmock.NewStringResponder(http.StatusOK, "198.51.100.4\n"))

		for i := 0; i < 3; i++ {
			if got := c.ips.Resolve(context.Background()); got != "198.51.100.4" {
				t.Fatalf("ip = %q", got)
			}
		}
		if n := transport.GetTotalCallCount(); n != 1 {
			t.Fatalf("calls = %d, want 1", n)
		}
	})

	t.Run("cache disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.ClientIP = ""
		cfg.IPLookupURL = lookup
		cfg.IPCacheTTL = 0
		c, transport := newTestClient(t, cfg)
		transport.RegisterResponder("GET", lookup, httpmock.NewStringResponder(http.StatusOK, "198.51.100.4"))

		c.ips.Resolve(context.Background())
		c.ips.Resolve(context.Background())
		if n := transport.GetTotalCallCount(); n != 2 {
			t.Fatalf("calls = %d, want 2", n)
		}
	})

	fallbacks := []struct {
		name      string
		responder httpmock.Responder
	}{
		{name: "http error", responder: httpmock.NewStringResponder(http.StatusServiceUnavailable, "")},
		{name: "transport error", responder: httpmock.NewErrorResponder(errors.New("no route"))},
		{name: "garbage", responder: httpmock.NewStringResponder(http.StatusOK, "<html>nope</html>")},
	}
	for _, tt := range fallbacks {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ClientIP = ""
			cfg.IPLookupURL = lookup
			c, transport := newTestClient(t, cfg)
			transport.RegisterResponder("GET", lookup, tt.responder)

			if got := c.ips.Resolve(context.Background()); got != FallbackIP {
				t.Fatalf("ip = %q, want %s", got, FallbackIP)
			}
		})
	}
}

func TestSearchSendsFallbackIP(t *testing.T) {
	cfg := testConfig()
	cfg.ClientIP = ""
	cfg.IPLookupURL = "https://ip.test/"
	c, transport := newTestClient(t, cfg)
	transport.RegisterResponder("GET", "https://ip.test/", httpmock.NewErrorResponder(errors.New("offline")))

	var clientIP string
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		clientIP = req.URL.Query().Get("clientip")
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	if _, err := c.Search(context.Background(), "dune"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if clientIP != FallbackIP {
		t.Fatalf("clientip = %q, want %s", clientIP, FallbackIP)
	}
}

func TestDecodeBodyPassesThroughUTF8(t *testing.T) {
	in := "Straße & Söhne"
	if got := decodeBody([]byte(in), "text/xml; charset=ISO-8859-1"); got != in {
		t.Fatalf("decodeBody() = %q, want %q", got, in)
	}
}

func TestDecodeBodyUndeclaredLatin1(t *testing.T) {
	raw, err := charmap.ISO8859_1.NewEncoder().String("Müller")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := decodeBody([]byte(raw), ""); got != "Müller" {
		t.Fatalf("decodeBody() = %q, want Müller", got)
	}
}

func BenchmarkSearch(b *testing.B) {
	c, err := NewClient(testConfig())
	if err != nil {
		b.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testEndpoint, httpmock.NewStringResponder(http.StatusOK, sampleResponse))
	c.SetTransport(transport)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Search(context.Background(), "dune"); err != nil {
			b.Fatalf("search: %v", err)
		}
	}
}

func TestSearchLargeBodyNotTruncated(t *testing.T) {
	c, transport := newTestClient(t, testConfig())

	const minSize = 11 << 20
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Books>`)
	count := 0
	for body.Len() < minSize {
		fmt.Fprintf(&body, "<Book title=\"Dune\" price=\"1.00\" dealer=\"d%d\" url=\"https://shop.test/%d\" />\n", count, count)
		count++
	}
	body.WriteString("</Books>")
	transport.RegisterResponder("GET", testEndpoint, httpmock.NewBytesResponder(http.StatusOK, []byte(body.String())))

	result, err := c.Search(context.Background(), "Dune")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Books) != count {
		t.Fatalf("books = %d, want %d", len(result.Books), count)
	}
	last := fmt.Sprintf("https://shop.test/%d", count-1)
	if got := result.Books[count-1].Link; got != last {
		t.Fatalf("last link = %q, want %q", got, last)
	}
}

func TestSearchIPLookupNotCountedAsMetasearch(t *testing.T) {
	cfg := testConfig()
	cfg.ClientIP = ""
	cfg.IPLookupURL = "https://ip.test/"
	c, transport := newTestClient(t, cfg)
	transport.RegisterResponder("GET", "https://ip.test/", httpmock.NewStringResponder(http.StatusOK, "198.51.100.4"))

	var clientIP string
	transport.RegisterResponder("GET", testEndpoint, func(req *http.Request) (*http.Response, error) {
		clientIP = req.URL.Query().Get("clientip")
		return httpmock.NewStringResponse(http.StatusOK, sampleResponse), nil
	})

	if _, err := c.Search(context.Background(), "Dune"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if clientIP != "198.51.100.4" {
		t.Fatalf("clientip = %q, want looked-up address", clientIP)
	}
	if n := transport.GetTotalCallCount(); n != 2 {
		t.Fatalf("transport calls = %d, want 2", n)
	}
	if got := c.Requests(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
	if got := testutil.ToFloat64(c.Metrics.RequestsTotal.WithLabelValues("started")); got != 1 {
		t.Fatalf("started metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Metrics.RequestsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed metric = %v, want 1", got)
	}
}
