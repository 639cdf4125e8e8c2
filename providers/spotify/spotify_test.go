package spotify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grabtap/mediaresolve"
)

const trackURL = "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"

const landingPage = `
<html><body>
<form action="/action">
  <input type="hidden" name="_csrf" value="secret-token"/>
  <input type="text" name="url"/>
</form>
</body></html>`

func resultFragment() string {
	return `
<div>
  <img src="https://cdn.example.com/cover.jpg"/>
  <h3>Song Title</h3>
  <p>Artist Name</p>
  <a href="/dl?token=cover-123">Download Cover</a>
  <a href="/dl?token=audio-456">Download MP3</a>
</div>`
}

func testConfig(serverURL string) Config {
	cfg := NewConfig()
	cfg.BaseURL = serverURL
	cfg.RequestTimeout = 5 * time.Second
	cfg.RequestRetries = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestMatch(t *testing.T) {
	assert := assert.New(t)
	provider := New()

	source, err := provider.Match("listen: " + trackURL + "?si=abc123")
	assert.NoError(err)
	// Share parameters are stripped from the canonical URL.
	assert.Equal(trackURL, source.URL())

	_, err = provider.Match("https://example.com/track/1")
	assert.Error(err)
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/en", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/action", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(r.ParseForm())
		assert.Equal(trackURL, r.PostForm.Get("url"))
		assert.Equal("secret-token", r.PostForm.Get("_csrf"))
		sum := md5.Sum([]byte(trackURL))
		assert.Equal(hex.EncodeToString(sum[:]), r.PostForm.Get("_lvrcs"))
		fmt.Fprint(w, resultFragment())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(trackURL)
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Equal("Song Title", data.Title)
	assert.Equal("Artist Name", data.Author)
	assert.Equal("https://cdn.example.com/cover.jpg", data.Thumbnail)
	assert.Len(data.Formats, 1)

	format := data.Formats[0]
	// The cover-art link is skipped; the relative href is absolutized.
	assert.Equal(server.URL+"/dl?token=audio-456", format.DownloadURL)
	assert.Equal("mp3", format.Container)
	assert.False(format.HasVideo)
	assert.True(format.HasAudio)
	assert.Equal("Audio", format.Note)
}

func TestResolveRefreshesTokenOn403(t *testing.T) {
	assert := assert.New(t)
	var landings, posts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/en", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&landings, 1)
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/action", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, resultFragment())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(trackURL)
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Len(data.Formats, 1)
	assert.Equal(int32(2), atomic.LoadInt32(&landings))
	assert.Equal(int32(2), atomic.LoadInt32(&posts))
}

func TestResolveMissingToken(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/en", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>no form here</body></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(trackURL)
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindUpstream))
}

func TestResolveNoDownloadLink(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/en", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/action", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div><a href="/dl?token=cover-1">Download Cover</a></div>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(trackURL)
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindParse))
}
