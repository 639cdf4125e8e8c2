package qishui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grabtap/mediaresolve"
)

const trackPage = `
<html>
<head>
<script>window._ROUTER_DATA = {"loaderData":{"track_page":{"audioWithLyricsOption":{"url":"https://audio.example.com/track.mp3"}}}};</script>
</head>
<body>
  <h1 class="title">晴天</h1>
  <span class="artist-name-max">周杰伦</span>
  <img alt="a-image" src="https://cdn.example.com/cover.jpg"/>
  <div style="color:rgba(255, 255, 255, 0.5)">4:29</div>
</body>
</html>`

// allowHost lets tests point the share-link pattern at a local server.
func allowHost(t *testing.T, pattern string) {
	t.Helper()
	old := linkPattern
	linkPattern = regexp.MustCompile(pattern)
	t.Cleanup(func() { linkPattern = old })
}

func testConfig(serverURL string) Config {
	cfg := NewConfig()
	cfg.TrackPageURL = serverURL + "/qishui/share/track?track_id=%s"
	cfg.ZlinkPageURL = serverURL + "/qishui/share/track?zlink_id=%s"
	cfg.RequestTimeout = 5 * time.Second
	cfg.RequestRetries = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestMatch(t *testing.T) {
	assert := assert.New(t)
	provider := New()

	source, err := provider.Match("听听这首 https://qishui.douyin.com/s/iFqRj2mA/ 吧")
	assert.NoError(err)
	assert.Equal("https://qishui.douyin.com/s/iFqRj2mA/", source.URL())

	source, err = provider.Match("https://music.douyin.com/qishui/share/track?track_id=7123")
	assert.NoError(err)
	assert.Contains(source.URL(), "track_id=7123")

	_, err = provider.Match("https://v.douyin.com/xyz/")
	assert.Error(err)
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/s/share", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/qishui/share/track?track_id=777", http.StatusFound)
	})
	mux.HandleFunc("/qishui/share/track", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("777", r.URL.Query().Get("track_id"))
		fmt.Fprint(w, trackPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	allowHost(t, regexp.QuoteMeta(server.URL)+`/[^\s<>"]+`)

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(server.URL + "/s/share")
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Equal("晴天", data.Title)
	assert.Equal("周杰伦", data.Author)
	assert.Equal("https://cdn.example.com/cover.jpg", data.Thumbnail)
	assert.Equal(269, data.DurationSeconds)
	assert.Len(data.Formats, 1)

	format := data.Formats[0]
	assert.Equal("https://audio.example.com/track.mp3", format.DownloadURL)
	assert.Equal("mp3", format.Container)
	assert.False(format.HasVideo)
	assert.True(format.HasAudio)
	assert.Equal("Audio", format.Note)
}

func TestResolveZlinkFallback(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/s/iXyZ98/", func(w http.ResponseWriter, r *http.Request) {
		// No redirect; the share-link ID has to be looked up directly.
		fmt.Fprint(w, "<html>share page</html>")
	})
	mux.HandleFunc("/qishui/share/track", func(w http.ResponseWriter, r *http.Request) {
		if zlinkID := r.URL.Query().Get("zlink_id"); zlinkID != "" {
			assert.Equal("iXyZ98", zlinkID)
			fmt.Fprint(w, `<html><a href="?track_id=888">play</a></html>`)
			return
		}
		assert.Equal("888", r.URL.Query().Get("track_id"))
		fmt.Fprint(w, trackPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	allowHost(t, regexp.QuoteMeta(server.URL)+`/[^\s<>"]+`)

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(server.URL + "/s/iXyZ98/")
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Len(data.Formats, 1)
	assert.Equal("晴天", data.Title)
}

func TestResolveNoTrackID(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>dead share page</html>")
	}))
	defer server.Close()
	allowHost(t, regexp.QuoteMeta(server.URL)+`/[^\s<>"]+`)

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(server.URL + "/s/gone")
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindParse))
}

func TestResolveMissingAudioURL(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/s/share", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/qishui/share/track?track_id=1", http.StatusFound)
	})
	mux.HandleFunc("/qishui/share/track", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script>window._ROUTER_DATA = {"loaderData":{}};</script></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	allowHost(t, regexp.QuoteMeta(server.URL)+`/[^\s<>"]+`)

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match(server.URL + "/s/share")
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindParse))
}
