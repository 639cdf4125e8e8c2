package mediaresolve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	url  string
	data *MediaData
	err  error
}

func (s *stubSource) URL() string { return s.url }

func (s *stubSource) Resolve(ctx context.Context) (*MediaData, error) {
	return s.data, s.err
}

func matchNothing(string) (Source, error) {
	return nil, errors.New("no match")
}

func matchEverything(s string) (Source, error) {
	return &stubSource{url: s}, nil
}

func TestProviderRegistryAdd(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	assert.NoError(registry.Create("a", matchNothing))
	assert.ErrorIs(registry.Create("a", matchNothing), ErrDuplicateProvider)
	assert.ErrorIs(registry.Add(Provider{Name: "b"}), ErrInvalidProvider)
	assert.ErrorIs(registry.Add(Provider{Match: matchNothing}), ErrInvalidProvider)
	assert.Equal([]string{"a"}, registry.List())
}

func TestProviderRegistryPriority(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	registry.MustCreate("specific", matchEverything)
	registry.MustCreatePriority("fallback", matchEverything, PriorityLowest)
	registry.MustCreatePriority("urgent", matchEverything, PriorityHighest)

	assert.Equal([]string{"urgent", "specific", "fallback"}, registry.List())

	match, err := registry.Match("https://example.com/media/1")
	assert.NoError(err)
	assert.Equal("urgent", match.ProviderName)

	assert.NoError(registry.SetPriority("urgent", PriorityLowest))
	match, err = registry.Match("https://example.com/media/1")
	assert.NoError(err)
	assert.Equal("specific", match.ProviderName)

	assert.ErrorIs(registry.SetPriority("nope", PriorityHighest), ErrUnknownProvider)
}

func TestProviderRegistryMatchAggregatesFailures(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	registry.MustCreate("a", func(string) (Source, error) { return nil, fmt.Errorf("not an A link") })
	registry.MustCreate("b", func(string) (Source, error) { return nil, fmt.Errorf("not a B link") })

	match, err := registry.Match("plain text")
	assert.Nil(match)
	assert.Error(err)
	assert.Contains(err.Error(), "not an A link")
	assert.Contains(err.Error(), "not a B link")
}

func TestProviderRegistryMatchWith(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	registry.MustCreate("a", matchEverything)
	registry.MustCreate("b", matchNothing)

	match, err := registry.MatchWith("a", "https://example.com")
	assert.NoError(err)
	assert.Equal("a", match.ProviderName)

	_, err = registry.MatchWith("b", "https://example.com")
	assert.ErrorIs(err, ErrNoMatch)

	_, err = registry.MatchWith("zzz", "https://example.com")
	assert.ErrorIs(err, ErrUnknownProvider)
}
