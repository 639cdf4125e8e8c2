// Package spotify resolves Spotify track links through a helper site whose
// form wants a scraped CSRF token and an md5 checksum of the submitted URL.
package spotify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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

const providerName = "spotify"

// checksumField carries md5(url) alongside the form token.
const checksumField = "_lvrcs"

var linkPattern = regexp.MustCompile(`https?://open\.spotify\.com/[^\s<>"]+`)

type Config struct {
	mediaresolve.Config
	BaseURL string
}

func NewConfig() Config {
	return Config{
		Config:  mediaresolve.DefaultConfig,
		BaseURL: "https://spotifymate.com",
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
				"User-Agent": cfg.UserAgent,
				"Referer":    cfg.BaseURL + "/en",
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
		return nil, fmt.Errorf("no Spotify URL found in text")
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
	session, err := c.sessions.Acquire(ctx, providerName, c.bootstrap)
	if err != nil {
		return nil, err
	}

	resp, err := s.request(ctx, session)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 403 {
		c.log.Infow("got 403, refreshing form token")
		c.sessions.Invalidate(providerName)
		if session, err = c.sessions.Acquire(ctx, providerName, c.bootstrap); err != nil {
			return nil, err
		}
		if resp, err = s.request(ctx, session); err != nil {
			return nil, err
		}
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "action request returned HTTP %d", resp.StatusCode)
	}

	return s.normalize(resp.Body)
}

func (s *source) request(ctx context.Context, session *upstream.Session) (*httpx.Response, error) {
	c := s.c
	checksum := md5.Sum([]byte(s.url))
	form := url.Values{
		"url":         []string{s.url},
		checksumField: []string{hex.EncodeToString(checksum[:])},
	}
	for name, value := range session.Tokens {
		form.Set(name, value)
	}
	return c.http.PostForm(ctx, c.cfg.BaseURL+"/action", nil, form, map[string]string{
		"Origin":           c.cfg.BaseURL,
		"X-Requested-With": "XMLHttpRequest",
	})
}

func (s *source) normalize(body []byte) (*mediaresolve.MediaData, error) {
	doc, err := scrape.Document(body)
	if err != nil {
		return nil, err
	}

	data := &mediaresolve.MediaData{
		Title:     strings.TrimSpace(doc.Find("h3").First().Text()),
		Author:    strings.TrimSpace(doc.Find("p").First().Text()),
		Thumbnail: doc.Find("img").First().AttrOr("src", ""),
	}

	var downloadURL string
	doc.Find(`a[href*="/dl?token="]`).EachWithBreak(func(i int, anchor *goquery.Selection) bool {
		// The cover-art link points at the same endpoint; skip it.
		if strings.Contains(anchor.Text(), "Cover") {
			return true
		}
		href, ok := anchor.Attr("href")
		if !ok {
			return true
		}
		downloadURL = util.Absolutize(s.c.cfg.BaseURL, href)
		return false
	})
	if downloadURL == "" {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "no download link found in response")
	}

	quality := "Audio"
	data.Formats = []mediaresolve.FormatVariant{{
		Quality:     quality,
		Container:   "mp3",
		DownloadURL: downloadURL,
		HasVideo:    false,
		HasAudio:    true,
		Note:        mediaresolve.FormatNote(false, true, quality),
	}}
	return data, nil
}

// bootstrap scrapes the hidden single-use form token off the landing page.
func (c *client) bootstrap(ctx context.Context) (*upstream.Session, error) {
	resp, err := c.http.Get(ctx, c.cfg.BaseURL+"/en", nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "landing page returned HTTP %d", resp.StatusCode)
	}
	doc, err := scrape.Document(resp.Body)
	if err != nil {
		return nil, err
	}
	input := doc.Find(`form input[type="hidden"]`).First()
	name, hasName := input.Attr("name")
	value, hasValue := input.Attr("value")
	if !hasName || !hasValue || name == "" {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "landing page is missing the form token")
	}
	return &upstream.Session{Tokens: map[string]string{name: value}}, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
