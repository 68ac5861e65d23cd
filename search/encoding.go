package search

import (
	"bytes"
	"io"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// decodeBody returns body as UTF-8 text. colly already converts bodies whose
// Content-Type names a charset; this covers responses that declare nothing and
// still arrive as Latin-1, falling back to windows-1252.
func decodeBody(body []byte, contentType string) string {
	if utf8.Valid(body) {
		return string(body)
	}

	enc, name, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		slog.Debug("response charset conversion failed", slog.String("charset", name), slog.Any("error", err))
		return string(body)
	}
	return string(decoded)
}
