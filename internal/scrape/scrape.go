// Package scrape has the HTML-side parsing helpers shared by the scrape
// providers: goquery document construction and extraction of JSON objects
// embedded in <script> blocks.
package scrape

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/grabtap/mediaresolve"
)

// Document parses an HTML body, classifying failure as a parse error.
func Document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindParse, err, "failed to parse HTML")
	}
	return doc, nil
}

// ScriptJSON extracts a JSON object embedded in HTML. It scans for the marker
// token, then returns the outermost balanced JSON object that follows it.
// Brace balancing is string-aware so braces inside JSON strings don't end the
// object early.
func ScriptJSON(html string, marker string) (string, error) {
	at := strings.Index(html, marker)
	if at < 0 {
		return "", mediaresolve.NewError(mediaresolve.KindParse, "marker %q not found in document", marker)
	}
	rest := html[at+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", mediaresolve.NewError(mediaresolve.KindParse, "no JSON object after marker %q", marker)
	}
	rest = rest[start:]

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1], nil
			}
		}
	}
	return "", mediaresolve.NewError(mediaresolve.KindParse, "unterminated JSON object after marker %q", marker)
}

// DecodeJSON unmarshals extracted JSON, classifying failure as a parse error.
func DecodeJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return mediaresolve.WrapError(mediaresolve.KindParse, err, "failed to decode embedded JSON")
	}
	return nil
}

// OuterJSON returns the outermost JSON object boundaries of a blob of text:
// everything from the first '{' to the last '}'. This matches how the
// upstream's own client code slices its configuration out of the decoded
// snippet, so it is deliberately not brace-balanced.
func OuterJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", mediaresolve.NewError(mediaresolve.KindParse, "no JSON object boundaries in text")
	}
	return text[start : end+1], nil
}
