// Package douyin resolves Douyin share links through a WordPress-based helper
// whose API authenticates requests with a scraped page token plus a hash
// derived from the submitted URL.
package douyin

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/internal/scrape"
	"github.com/grabtap/mediaresolve/internal/upstream"
)

const providerName = "douyin"

// hashSalt is appended (base64-encoded) to the request hash.
const hashSalt = "aio-dl"

// downloadPath is the plugin endpoint that resolves a media index to the real
// file URL.
const downloadPath = "/wp-content/plugins/aio-video-downloader/download.php"

var (
	linkPattern        = regexp.MustCompile(`https?://(?:www\.|v\.|m\.)?douyin\.com/[^\s<>"]+`)
	scriptTokenPattern = regexp.MustCompile(`"token"\s*:\s*"([^"]+)"`)
)

type Config struct {
	mediaresolve.Config
	BaseURL string
}

func NewConfig() Config {
	return Config{
		Config:  mediaresolve.DefaultConfig,
		BaseURL: "https://snapdouyin.app",
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
				"Referer":    cfg.BaseURL + "/",
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
		return nil, fmt.Errorf("no Douyin URL found in text")
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

// payload is the helper API's response shape.
type payload struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration"`
	Medias    []struct {
		URL            string `json:"url"`
		Quality        string `json:"quality"`
		Extension      string `json:"extension"`
		Size           int64  `json:"size"`
		VideoAvailable bool   `json:"videoAvailable"`
		AudioAvailable bool   `json:"audioAvailable"`
	} `json:"medias"`
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
		c.log.Infow("got 403, refreshing token")
		c.sessions.Invalidate(providerName)
		if session, err = c.sessions.Acquire(ctx, providerName, c.bootstrap); err != nil {
			return nil, err
		}
		if resp, err = s.request(ctx, session); err != nil {
			return nil, err
		}
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "video-data request returned HTTP %d", resp.StatusCode)
	}

	var p payload
	if err := resp.JSON(&p); err != nil {
		return nil, err
	}
	return s.normalize(ctx, &p)
}

func (s *source) request(ctx context.Context, session *upstream.Session) (*httpx.Response, error) {
	c := s.c
	form := url.Values{
		"url":   []string{s.url},
		"token": []string{session.Token("token")},
		"hash":  []string{requestHash(s.url)},
	}
	return c.http.PostForm(ctx, c.cfg.BaseURL+"/wp-json/mx-downloader/video-data/", nil, form, map[string]string{
		"Origin": c.cfg.BaseURL,
	})
}

// requestHash mirrors the page script: base64(url) + (len(url)+1000) +
// base64(salt).
func requestHash(target string) string {
	return base64.StdEncoding.EncodeToString([]byte(target)) +
		strconv.Itoa(len(target)+1000) +
		base64.StdEncoding.EncodeToString([]byte(hashSalt))
}

func (s *source) normalize(ctx context.Context, p *payload) (*mediaresolve.MediaData, error) {
	if len(p.Medias) == 0 {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "response contains no media entries")
	}
	duration, _ := strconv.Atoi(p.Duration)
	data := &mediaresolve.MediaData{
		Title:           p.Title,
		Author:          p.Author,
		Thumbnail:       p.Thumbnail,
		DurationSeconds: duration,
	}
	for i, media := range p.Medias {
		variant := mediaresolve.FormatVariant{
			Quality:     media.Quality,
			Container:   media.Extension,
			DownloadURL: media.URL,
			HasVideo:    media.VideoAvailable,
			HasAudio:    media.AudioAvailable,
		}
		if media.Size > 0 {
			size := media.Size
			variant.SizeBytes = &size
		}
		if direct, err := s.directURL(ctx, i); err != nil {
			s.c.log.Debugw("direct URL lookup failed, keeping landing URL", "index", i, "error", err)
		} else if direct != "" {
			variant.DownloadURL = direct
		}
		variant.Note = mediaresolve.FormatNote(variant.HasVideo, variant.HasAudio, media.Quality)
		data.Formats = append(data.Formats, variant)
	}
	return data, nil
}

// directURL asks the helper's download endpoint for the real file URL behind
// media index i. The endpoint answers with JSON, a redirect, or by serving the
// file itself; any of the three yields a usable URL.
func (s *source) directURL(ctx context.Context, i int) (string, error) {
	c := s.c
	params := url.Values{
		"source":           []string{providerName},
		"media":            []string{base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(i)))},
		"bandwidth_saving": []string{"1"},
	}
	endpoint := c.cfg.BaseURL + downloadPath
	resp, err := c.http.GetNoFollow(ctx, endpoint, params, nil)
	if err != nil {
		return "", err
	}
	if location := resp.Header.Get("Location"); location != "" {
		return location, nil
	}
	if !resp.OK() {
		return "", mediaresolve.NewError(mediaresolve.KindUpstream, "download endpoint returned HTTP %d", resp.StatusCode)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var body struct {
			URL string `json:"url"`
		}
		if err := resp.JSON(&body); err != nil {
			return "", err
		}
		return body.URL, nil
	}
	// The client records the URL it requested as FinalURL, query string
	// included; anything else means the endpoint served the file directly.
	if resp.FinalURL != "" && resp.FinalURL != endpoint+"?"+params.Encode() {
		return resp.FinalURL, nil
	}
	return "", nil
}

// bootstrap scrapes the page token, preferring the hidden form input and
// falling back to the inline script blob.
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
	token, ok := doc.Find("#token").First().Attr("value")
	if !ok || token == "" {
		if m := scriptTokenPattern.FindStringSubmatch(string(resp.Body)); m != nil {
			token = m[1]
		}
	}
	if token == "" {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "homepage is missing the request token")
	}
	return &upstream.Session{Tokens: map[string]string{"token": token}}, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
