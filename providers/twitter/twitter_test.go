package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grabtap/mediaresolve"
)

const resultFragment = `
<div id="target">
  <a href="https://cdn.ssscdn.io/video/720.mp4">Download MP4 1280x720 (HD)</a>
  <a href="https://cdn.ssscdn.io/video/360.mp4">Download MP4 640x360</a>
  <a href="https://somewhere-else.com/x.mp4">640x360 not a download link</a>
</div>`

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

	source, err := provider.Match("check this https://x.com/someone/status/1234567890?s=20 wow")
	assert.NoError(err)
	// Tracking parameters are not part of the canonical URL.
	assert.Equal("https://x.com/someone/status/1234567890", source.URL())

	source, err = provider.Match("https://twitter.com/someone/status/1234567890")
	assert.NoError(err)
	assert.Equal("https://twitter.com/someone/status/1234567890", source.URL())

	_, err = provider.Match("https://example.com/not-a-tweet")
	assert.Error(err)
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, "<html>home</html>")
			return
		}
		assert.NoError(r.ParseForm())
		assert.Equal("https://x.com/someone/status/1234567890", r.PostForm.Get("id"))
		assert.NotEmpty(r.PostForm.Get("hx-target"))
		fmt.Fprint(w, resultFragment)
	}))
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match("https://x.com/someone/status/1234567890")
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Len(data.Formats, 2)

	hd := data.Formats[0]
	assert.Equal("HD", hd.Quality)
	assert.Equal("mp4", hd.Container)
	assert.Equal("https://cdn.ssscdn.io/video/720.mp4", hd.DownloadURL)
	assert.True(hd.HasVideo)
	assert.True(hd.HasAudio)
	assert.Equal("Video + Audio", hd.Note)

	medium := data.Formats[1]
	assert.Equal("medium", medium.Quality)
	assert.Equal("https://cdn.ssscdn.io/video/360.mp4", medium.DownloadURL)
}

func TestResolveRefreshesSessionOn403(t *testing.T) {
	assert := assert.New(t)
	var gets, posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
			fmt.Fprint(w, "<html>home</html>")
			return
		}
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, resultFragment)
	}))
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match("https://x.com/someone/status/1234567890")
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Len(data.Formats, 2)
	// One bootstrap up front, one forced by the 403.
	assert.Equal(int32(2), atomic.LoadInt32(&gets))
	assert.Equal(int32(2), atomic.LoadInt32(&posts))
}

func TestResolveNoLinksIsParseError(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, "<html>home</html>")
			return
		}
		fmt.Fprint(w, `<div id="target"><p>This tweet has no video</p></div>`)
	}))
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match("https://x.com/someone/status/1234567890")
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindParse))
}
