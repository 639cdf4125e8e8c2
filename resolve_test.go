package mediaresolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveNoMatchIsInputError(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	registry.MustCreate("strict", matchNothing)

	// Plain text with no URL must fail fast as an input error, without any
	// network activity.
	result := registry.Resolve(context.Background(), "just some words")
	assert.Equal(StatusError, result.Status)
	assert.Equal("input: no source URL found in input", result.Message)
	assert.Nil(result.Data)
}

func TestResolveSuccess(t *testing.T) {
	assert := assert.New(t)
	data := &MediaData{Title: "clip", Formats: []FormatVariant{{Quality: "HD", DownloadURL: "https://cdn/1.mp4"}}}
	registry := ProviderRegistry{}
	registry.MustCreate("stub", func(s string) (Source, error) {
		return &stubSource{url: s, data: data}, nil
	})

	result := registry.Resolve(context.Background(), "https://example.com/watch/1")
	assert.Equal(StatusSuccess, result.Status)
	assert.Equal("clip", result.Data.Title)
}

func TestResolveErrorNeverEscapes(t *testing.T) {
	assert := assert.New(t)
	registry := ProviderRegistry{}
	registry.MustCreate("failing", func(s string) (Source, error) {
		return &stubSource{url: s, err: NewError(KindConversion, "upstream said no")}, nil
	})

	result := registry.Resolve(context.Background(), "https://example.com/watch/1")
	assert.Equal(StatusError, result.Status)
	assert.Equal("conversion: upstream said no", result.Message)
}

func TestResolveWith(t *testing.T) {
	assert := assert.New(t)
	data := &MediaData{Title: "clip", Formats: []FormatVariant{{Quality: "HD"}}}
	registry := ProviderRegistry{}
	registry.MustCreate("a", func(s string) (Source, error) {
		return &stubSource{url: s, data: data}, nil
	})

	result := registry.ResolveWith(context.Background(), "nope", "https://example.com")
	assert.Equal(StatusError, result.Status)
	assert.Contains(result.Message, "unknown provider")

	result = registry.ResolveWith(context.Background(), "a", "https://example.com")
	assert.Equal(StatusSuccess, result.Status)
	assert.Equal("clip", result.Data.Title)
}
