// Package twitter resolves tweet links into direct video URLs by driving a
// helper site that renders download links into an HTMX fragment.
package twitter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/internal/scrape"
	"github.com/grabtap/mediaresolve/internal/upstream"
	"github.com/grabtap/mediaresolve/util"
)

const providerName = "twitter"

var tweetPattern = regexp.MustCompile(`https?://(?:www\.)?(?:twitter\.com|x\.com)/\S+`)

// qualityLabels maps upstream link text fragments to canonical quality names,
// in the order formats are emitted.
var qualityLabels = []struct {
	marker  string
	quality string
}{
	{"HD", "HD"},
	{"640x360", "medium"},
	{"480x270", "low"},
}

type Config struct {
	mediaresolve.Config
	// BaseURL is the helper site; bootstrap GET and resolve POST both hit it.
	BaseURL string
	// CDNHost marks which anchors in the response are download links.
	CDNHost string
}

func NewConfig() Config {
	return Config{
		Config:  mediaresolve.DefaultConfig,
		BaseURL: "https://ssstwitter.com",
		CDNHost: "ssscdn.io",
	}
}

type client struct {
	cfg      Config
	http     *httpx.Client
	sessions *upstream.Manager
	log      *zap.SugaredLogger
}

func New() mediaresolve.Provider {
	return NewWithConfig(NewConfig())
}

func NewWithConfig(cfg Config) mediaresolve.Provider {
	c := &client{
		cfg: cfg,
		http: httpx.New(httpx.Config{
			Timeout:    cfg.RequestTimeout,
			Retries:    cfg.RequestRetries,
			RetryDelay: cfg.RetryDelay,
			Headers: map[string]string{
				"User-Agent":     cfg.UserAgent,
				"Accept":         "*/*",
				"Origin":         cfg.BaseURL,
				"Referer":        cfg.BaseURL + "/",
				"HX-Request":     "true",
				"HX-Current-URL": cfg.BaseURL + "/",
			},
		}),
		sessions: upstream.NewManager(cfg.SessionTTL),
		log:      zap.S().Named(providerName),
	}
	return mediaresolve.Provider{Name: providerName, Match: c.match}
}

func (c *client) match(text string) (mediaresolve.Source, error) {
	raw := tweetPattern.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no tweet URL found in text")
	}
	normalized, err := util.NormalizeURL(strings.TrimRight(raw, ".,;!?)"), false)
	if err != nil {
		return nil, err
	}
	return &source{c: c, url: normalized}, nil
}

type source struct {
	c   *client
	url string
}

func (s *source) URL() string {
	return s.url
}

func (s *source) String() string {
	return s.url
}

func (s *source) Resolve(ctx context.Context) (*mediaresolve.MediaData, error) {
	c := s.c
	if _, err := c.sessions.Acquire(ctx, providerName, c.bootstrap); err != nil {
		return nil, err
	}
	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "bootstrap", Percent: -1})

	resp, err := s.request(ctx)
	if err != nil {
		return nil, err
	}
	// An unauthenticated-looking response means our cookies went stale;
	// refresh the session and retry exactly once.
	if resp.StatusCode == 403 {
		c.log.Infow("got 403, refreshing session")
		c.sessions.Invalidate(providerName)
		if _, err := c.sessions.Acquire(ctx, providerName, c.bootstrap); err != nil {
			return nil, err
		}
		if resp, err = s.request(ctx); err != nil {
			return nil, err
		}
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "resolve request returned HTTP %d", resp.StatusCode)
	}

	return s.normalize(ctx, resp.Body)
}

func (s *source) request(ctx context.Context) (*httpx.Response, error) {
	form := url.Values{
		"id":             []string{s.url},
		"hx-target":      []string{"target"},
		"hx-current-url": []string{s.c.cfg.BaseURL + "/"},
	}
	return s.c.http.PostForm(ctx, s.c.cfg.BaseURL, nil, form, map[string]string{
		"HX-Target": "target",
	})
}

func (s *source) normalize(ctx context.Context, body []byte) (*mediaresolve.MediaData, error) {
	doc, err := scrape.Document(body)
	if err != nil {
		return nil, err
	}

	// Collect CDN anchors first so format order follows the fixed quality
	// ranking, not document order.
	links := make(map[string]string)
	doc.Find("a").Each(func(i int, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok || !strings.Contains(href, s.c.cfg.CDNHost) {
			return
		}
		text := strings.TrimSpace(anchor.Text())
		for _, label := range qualityLabels {
			if strings.Contains(text, label.marker) {
				if _, seen := links[label.quality]; !seen {
					links[label.quality] = href
				}
				return
			}
		}
	})

	var formats []mediaresolve.FormatVariant
	for _, label := range qualityLabels {
		href, ok := links[label.quality]
		if !ok {
			continue
		}
		formats = append(formats, mediaresolve.FormatVariant{
			Quality:     label.quality,
			Container:   "mp4",
			DownloadURL: util.Absolutize(s.c.cfg.BaseURL, href),
			HasVideo:    true,
			HasAudio:    true,
			Note:        mediaresolve.FormatNote(true, true, label.quality),
		})
	}
	if len(formats) == 0 {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "no video links found in response")
	}

	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "normalize", Percent: 100})
	return &mediaresolve.MediaData{Formats: formats}, nil
}

// bootstrap just primes the cookie jar; the helper site refuses POSTs from
// clients that never loaded the page.
func (c *client) bootstrap(ctx context.Context) (*upstream.Session, error) {
	resp, err := c.http.Get(ctx, c.cfg.BaseURL, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "homepage returned HTTP %d", resp.StatusCode)
	}
	return &upstream.Session{}, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
