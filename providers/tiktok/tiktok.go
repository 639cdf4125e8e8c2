// Package tiktok resolves TikTok/Douyin video links into watermark-free
// download URLs by driving a helper site whose API wants a scraped "prefix"
// token plus whatever extra form fields its homepage script declares.
package tiktok

import (
	"context"
	"encoding/json"
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

const providerName = "tiktok"

// prefixToken is the bootstrap token the resolve endpoint requires.
const prefixToken = "prefix"

var (
	linkPattern = regexp.MustCompile(`https?://[^\s<>"]*tiktok\.com/[^\s<>"]+`)
	// shortHosts need a redirect expansion before the video ID is visible.
	shortHosts = map[string]bool{
		"vm.tiktok.com": true,
		"vt.tiktok.com": true,
	}
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/video/(\d+)`),
		regexp.MustCompile(`item_ids=(\d+)`),
		regexp.MustCompile(`/(\d{15,21})`),
	}
	configPattern = regexp.MustCompile(`config\s*=\s*(\{[^}]+\})`)
)

// downloadKinds classifies anchors by their link text, most specific first;
// it also fixes the format emission order.
var downloadKinds = []struct {
	marker   string
	quality  string
	audio    bool
}{
	{"without watermark (hd)", "No Watermark (HD)", false},
	{"without watermark", "No Watermark", false},
	{"watermark", "Watermark", false},
	{"mp3", "Audio", true},
}

type Config struct {
	mediaresolve.Config
	// BaseURL is the helper site.
	BaseURL string
	// DownloadHost is the host real download links live on; anchors pointing
	// anywhere else are decoration.
	DownloadHost string
}

func NewConfig() Config {
	return Config{
		Config:       mediaresolve.DefaultConfig,
		BaseURL:      "https://tiktokio.com",
		DownloadHost: "dl.tiktokio.com",
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
				"User-Agent":      cfg.UserAgent,
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "en-US,en;q=0.9",
			},
		}),
		sessions: upstream.NewManager(cfg.SessionTTL),
		log:      zap.S().Named(providerName),
	}
	return mediaresolve.Provider{Name: providerName, Match: c.match}
}

func (c *client) match(text string) (mediaresolve.Source, error) {
	raw := linkPattern.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no TikTok video URL found in text")
	}
	return &source{c: c, url: strings.TrimRight(raw, ".,;!?)")}, nil
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
	session, err := c.sessions.Acquire(ctx, providerName, c.bootstrap)
	if err != nil {
		return nil, err
	}
	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "bootstrap", Percent: -1})

	videoID, err := s.extractVideoID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.request(ctx, session, videoID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 403 {
		c.log.Infow("got 403, refreshing session")
		c.sessions.Invalidate(providerName)
		if session, err = c.sessions.Acquire(ctx, providerName, c.bootstrap); err != nil {
			return nil, err
		}
		if resp, err = s.request(ctx, session, videoID); err != nil {
			return nil, err
		}
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "resolve request returned HTTP %d", resp.StatusCode)
	}

	return s.normalize(ctx, resp.Body)
}

// extractVideoID pulls the numeric video ID out of the matched URL, expanding
// share short-links through their redirect first.
func (s *source) extractVideoID(ctx context.Context) (string, error) {
	target := s.url
	if parsed, err := url.Parse(target); err == nil && shortHosts[parsed.Hostname()] {
		final, err := s.c.http.ResolveRedirects(ctx, target)
		if err != nil {
			s.c.log.Debugw("short link expansion failed, using original URL", "error", err)
		} else {
			target = final
		}
	}
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(target); m != nil {
			return m[1], nil
		}
	}
	return "", mediaresolve.NewError(mediaresolve.KindInput, "could not extract video ID from %s", target)
}

func (s *source) request(ctx context.Context, session *upstream.Session, videoID string) (*httpx.Response, error) {
	c := s.c
	params := url.Values{
		"t": []string{util.NowMillis()},
		"r": []string{util.RandomLetters(10)},
	}
	form := url.Values{
		"vid": []string{fmt.Sprintf("https://www.douyin.com/video/%s", videoID)},
	}
	for name, value := range session.Tokens {
		form.Set(name, value)
	}
	return c.http.PostForm(ctx, c.cfg.BaseURL+"/api/v1/tk-htmx", params, form, map[string]string{
		"X-Requested-With": "XMLHttpRequest",
		"HX-Request":       "true",
		"HX-Current-URL":   c.cfg.BaseURL + "/",
		"HX-Target":        "tiktok-parse-result",
		"Origin":           c.cfg.BaseURL,
		"Referer":          c.cfg.BaseURL + "/",
	})
}

func (s *source) normalize(ctx context.Context, body []byte) (*mediaresolve.MediaData, error) {
	doc, err := scrape.Document(body)
	if err != nil {
		return nil, err
	}

	data := &mediaresolve.MediaData{
		Title:     strings.TrimSpace(doc.Find("#tk-search-h2").First().Text()),
		Thumbnail: doc.Find(`img[src*="webp"]`).First().AttrOr("src", ""),
	}

	downloadPrefix := fmt.Sprintf("https://%s/download", s.c.cfg.DownloadHost)
	links := make(map[string]string)
	doc.Find(".tk-down-link a").Each(func(i int, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok || !strings.HasPrefix(href, downloadPrefix) {
			return
		}
		text := strings.ToLower(anchor.Text())
		for _, kind := range downloadKinds {
			if strings.Contains(text, kind.marker) {
				if _, seen := links[kind.quality]; !seen {
					links[kind.quality] = href
				}
				return
			}
		}
	})

	for _, kind := range downloadKinds {
		href, ok := links[kind.quality]
		if !ok {
			continue
		}
		variant := mediaresolve.FormatVariant{
			Quality:     kind.quality,
			Container:   "mp4",
			DownloadURL: href,
			HasVideo:    !kind.audio,
			HasAudio:    true,
		}
		if kind.audio {
			variant.Container = "mp3"
		}
		variant.Note = mediaresolve.FormatNote(variant.HasVideo, variant.HasAudio, kind.quality)
		data.Formats = append(data.Formats, variant)
	}
	if len(data.Formats) == 0 {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "no download links found in response")
	}

	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "normalize", Percent: 100})
	return data, nil
}

// bootstrap scrapes the "prefix" token (required) and any extra form fields
// the homepage script wants echoed back.
func (c *client) bootstrap(ctx context.Context) (*upstream.Session, error) {
	resp, err := c.http.Get(ctx, c.cfg.BaseURL, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "homepage returned HTTP %d", resp.StatusCode)
	}
	doc, err := scrape.Document(resp.Body)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]string)
	if prefix, ok := doc.Find(`input[name="prefix"]`).First().Attr("value"); ok {
		tokens[prefixToken] = prefix
	} else {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "homepage is missing the prefix token")
	}

	doc.Find("script").Each(func(i int, script *goquery.Selection) {
		text := script.Text()
		if !strings.Contains(text, "getNewUrl") {
			return
		}
		m := configPattern.FindStringSubmatch(text)
		if m == nil {
			return
		}
		var extra map[string]string
		if err := json.Unmarshal([]byte(m[1]), &extra); err != nil {
			c.log.Debugw("homepage script config is not valid JSON, ignoring", "error", err)
			return
		}
		for name, value := range extra {
			tokens[name] = value
		}
	})

	return &upstream.Session{Tokens: tokens}, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
