package parser

import "strings"

// Both replacers scan left to right once, so text produced by a replacement is
// never decoded again ("&amp;lt;" becomes "&lt;", not "<").
var (
	entityDecoder = strings.NewReplacer(
		"&amp;", "&",
		"&quot;", `"`,
		"&apos;", "'",
		"&lt;", "<",
		"&gt;", ">",
	)
	entityEncoder = strings.NewReplacer(
		"&", "&amp;",
		`"`, "&quot;",
		"'", "&apos;",
		"<", "&lt;",
		">", "&gt;",
	)
)

// DecodeEntities replaces the five predefined XML entities with their characters.
// Numeric character references are left untouched.
func DecodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityDecoder.Replace(s)
}

// EncodeEntities escapes the characters DecodeEntities restores.
func EncodeEntities(s string) string {
	return entityEncoder.Replace(s)
}
