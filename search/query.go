package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-eurobuch/config"
)

const queryPath = "/extreq/meta/extquery.php"

// QueryURL builds the metasearch request URL. The same term is sent as isbn, author
// and title; parameters keep the order the API documents.
func QueryURL(cfg *config.Config, term, clientIP string) string {
	params := [][2]string{
		{"platform", cfg.Platform},
		{"password", cfg.Password},
		{"isbn", term},
		{"author", term},
		{"title", term},
		{"mediatype", "0"},
		{"clientip", clientIP},
		{"format", "xml"},
		{"maxresults", strconv.Itoa(cfg.ResultLimit)},
	}

	var b strings.Builder
	b.WriteString(strings.TrimSuffix(cfg.SearchHost, "/"))
	b.WriteString(queryPath)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// redactURL masks the password query parameter for logs and errors.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	if q.Get("password") == "" {
		return raw
	}
	q.Set("password", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}
