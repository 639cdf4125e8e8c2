package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstURL(t *testing.T) {
	assert := assert.New(t)

	u, err := FirstURL("check this out: https://example.com/v/123?x=1 so cool")
	assert.NoError(err)
	assert.Equal("https://example.com/v/123?x=1", u)

	// Trailing punctuation from surrounding prose is not part of the URL.
	u, err = FirstURL("see https://example.com/v/123!")
	assert.NoError(err)
	assert.Equal("https://example.com/v/123", u)

	_, err = FirstURL("no links here")
	assert.ErrorIs(err, ErrNoURL)
}

func TestNormalizeURL(t *testing.T) {
	assert := assert.New(t)

	u, err := NormalizeURL("https://example.com/v/123?utm=abc&x=1#frag", false)
	assert.NoError(err)
	assert.Equal("https://example.com/v/123", u)

	u, err = NormalizeURL("https://example.com/v/123?x=1#frag", true)
	assert.NoError(err)
	assert.Equal("https://example.com/v/123?x=1", u)

	_, err = NormalizeURL("ftp://example.com/file", false)
	assert.Error(err)

	_, err = NormalizeURL("/relative/path", false)
	assert.Error(err)
}

func TestAbsolutize(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("https://example.com/dl?token=1", Absolutize("https://example.com", "/dl?token=1"))
	assert.Equal("https://cdn.example.com/x", Absolutize("https://example.com", "https://cdn.example.com/x"))
	assert.Equal("https://example.com/x", Absolutize("https://example.com/a/b", "//example.com/x"))
	assert.Equal("", Absolutize("https://example.com", ""))
}

func TestParseDurationSeconds(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(90, ParseDurationSeconds("90"))
	assert.Equal(225, ParseDurationSeconds("3:45"))
	assert.Equal(3825, ParseDurationSeconds("1:03:45"))
	assert.Equal(0, ParseDurationSeconds(""))
	assert.Equal(0, ParseDurationSeconds("n/a"))
	assert.Equal(0, ParseDurationSeconds("1:2:3:4"))
}

func TestRandomLetters(t *testing.T) {
	assert := assert.New(t)
	s := RandomLetters(10)
	assert.Len(s, 10)
	for _, r := range s {
		assert.True((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}
}
