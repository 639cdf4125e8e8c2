package ytmp3

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grabtap/mediaresolve"
)

// signingPage returns a homepage whose embedded snippet derives the token
// "site-ab": sequence "5,6" over alphabet "abc" with offset 5.
func signingPage() string {
	seq := base64.StdEncoding.EncodeToString([]byte("5,6"))
	blob := fmt.Sprintf(`var gc = {'0':'%s','1':'abc','2':'site','f':[0,0,5,0,',','']};`, seq)
	return fmt.Sprintf(`<html><head><script>eval(atob('%s'));</script></head></html>`,
		base64.StdEncoding.EncodeToString([]byte(blob)))
}

func testConfig(serverURL string) Config {
	cfg := NewConfig()
	cfg.HomeURL = serverURL + "/"
	cfg.InitURL = serverURL + "/api/v1/init"
	cfg.Origin = serverURL
	cfg.RequestTimeout = 5 * time.Second
	cfg.RequestRetries = 0
	cfg.RetryDelay = time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.MaxPollAttempts = 5
	return cfg
}

func TestMatch(t *testing.T) {
	assert := assert.New(t)
	provider := New()

	for _, input := range []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"watch this https://youtube.com/watch?list=x&v=dQw4w9WgXcQ now",
	} {
		source, err := provider.Match(input)
		assert.NoError(err, input)
		assert.Equal("https://www.youtube.com/watch?v=dQw4w9WgXcQ", source.URL(), input)
	}

	_, err := provider.Match("https://vimeo.com/12345")
	assert.Error(err)
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)
	var serverURL string
	var homeHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&homeHits, 1)
		fmt.Fprint(w, signingPage())
	})
	mux.HandleFunc("/api/v1/init", func(w http.ResponseWriter, r *http.Request) {
		k, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("k"))
		assert.NoError(err)
		assert.Equal("site-ab", string(k))
		fmt.Fprintf(w, `{"error":0,"convertURL":"%s/convert"}`, serverURL)
	})
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("https://www.youtube.com/watch?v=dQw4w9WgXcQ", r.URL.Query().Get("v"))
		assert.Equal("mp3", r.URL.Query().Get("f"))
		fmt.Fprintf(w, `{"progress":3,"downloadURL":"%s/dl/song.mp3","title":"Never Gonna"}`, serverURL)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match("https://youtu.be/dQw4w9WgXcQ")
	assert.NoError(err)

	data, err := source.Resolve(context.Background())
	assert.NoError(err)
	assert.Equal("Never Gonna", data.Title)
	assert.Len(data.Formats, 1)
	format := data.Formats[0]
	assert.Equal("mp3", format.Container)
	assert.Equal(server.URL+"/dl/song.mp3", format.DownloadURL)
	assert.False(format.HasVideo)
	assert.True(format.HasAudio)
	assert.Equal("Audio", format.Note)

	// The signing session is cached: a second resolution does not refetch the
	// homepage.
	_, err = source.Resolve(context.Background())
	assert.NoError(err)
	assert.Equal(int32(1), atomic.LoadInt32(&homeHits))
}

func TestResolveSignatureShapeChange(t *testing.T) {
	assert := assert.New(t)
	mux := http.NewServeMux()
	var homeHits int32
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&homeHits, 1)
		// Configuration is missing required keys, so derivation always fails.
		blob := `var gc = {'1':'abc','f':[0,0]};`
		fmt.Fprintf(w, `<html><script>eval(atob('%s'));</script></html>`,
			base64.StdEncoding.EncodeToString([]byte(blob)))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider := NewWithConfig(testConfig(server.URL))
	source, err := provider.Match("https://youtu.be/dQw4w9WgXcQ")
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindSignature))
	// A derivation failure forces exactly one refresh before surfacing.
	assert.Equal(int32(2), atomic.LoadInt32(&homeHits))
}

func TestResolvePollTimeout(t *testing.T) {
	assert := assert.New(t)
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, signingPage())
	})
	mux.HandleFunc("/api/v1/init", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"convertURL":"%s/convert"}`, serverURL)
	})
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"progress":0,"progressURL":"%s/progress","downloadURL":"%s/dl"}`, serverURL, serverURL)
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"progress":1}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	cfg := testConfig(server.URL)
	cfg.MaxPollAttempts = 2
	provider := NewWithConfig(cfg)
	source, err := provider.Match("https://youtu.be/dQw4w9WgXcQ")
	assert.NoError(err)

	_, err = source.Resolve(context.Background())
	assert.True(mediaresolve.IsKind(err, mediaresolve.KindPollTimeout))
}
