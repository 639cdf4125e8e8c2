package util

import (
	"errors"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoURL = errors.New("no URL found in text")
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// FirstURL returns the first http(s) URL in the text, in scan order.
func FirstURL(text string) (string, error) {
	match := urlPattern.FindString(text)
	if match == "" {
		return "", ErrNoURL
	}
	return strings.TrimRight(match, ".,;!?)"), nil
}

// NormalizeURL validates that s is an absolute http(s) URL, stripping the
// fragment and, unless keepQuery is set, the query string.
func NormalizeURL(s string, keepQuery bool) (string, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported URL scheme " + parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("URL has no host")
	}
	parsed.Fragment = ""
	if !keepQuery {
		parsed.RawQuery = ""
	}
	return parsed.String(), nil
}

// Absolutize resolves href against base, handling protocol-relative ("//...")
// and path-relative hrefs the way a browser would.
func Absolutize(base string, href string) string {
	if href == "" {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	hrefURL, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(hrefURL).String()
}

// ParseDurationSeconds parses an upstream duration that is either a plain
// number of seconds or a "mm:ss" / "hh:mm:ss" clock value. Unparseable input
// gives 0.
func ParseDurationSeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// NowMillis is the current time as milliseconds since the epoch, the cache
// buster format every upstream helper site expects.
func NowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func init() {
	rand.Seed(time.Now().UnixNano())
}

// RandomLetters returns n random ASCII letters.
func RandomLetters(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
