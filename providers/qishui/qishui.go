// Package qishui resolves Qishui (Douyin Music) share links by following the
// share redirect to the track page and reading the track data that page embeds
// in a router bootstrap script.
package qishui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/internal/scrape"
	"github.com/grabtap/mediaresolve/util"
)

const providerName = "qishui"

// routerDataMarker locates the embedded JSON the track page hydrates from.
const routerDataMarker = "window._ROUTER_DATA"

var (
	linkPattern    = regexp.MustCompile(`https?://(?:qishui\.douyin\.com|music\.douyin\.com)/[^\s<>"]+`)
	trackIDPattern = regexp.MustCompile(`track_id=(\d+)`)
)

type Config struct {
	mediaresolve.Config
	// TrackPageURL is the page a track ID resolves on; %s is the track ID.
	TrackPageURL string
	// ZlinkPageURL is the track page looked up by share-link ID when the
	// share URL doesn't redirect; %s is the zlink ID.
	ZlinkPageURL string
}

func NewConfig() Config {
	return Config{
		Config:       mediaresolve.DefaultConfig,
		TrackPageURL: "https://music.douyin.com/qishui/share/track?track_id=%s",
		ZlinkPageURL: "https://music.douyin.com/qishui/share/track?zlink_id=%s",
	}
}

type client struct {
	cfg  Config
	http *httpx.Client
	log  *zap.SugaredLogger
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
			},
		}),
		log: zap.S().Named(providerName),
	}
	return mediaresolve.Provider{Name: providerName, Match: c.match}
}

func (c *client) match(text string) (mediaresolve.Source, error) {
	raw := linkPattern.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no Qishui music URL found in text")
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

// routerData is the subset of the page bootstrap JSON the resolver needs.
type routerData struct {
	LoaderData struct {
		TrackPage struct {
			AudioWithLyricsOption struct {
				URL string `json:"url"`
			} `json:"audioWithLyricsOption"`
		} `json:"track_page"`
	} `json:"loaderData"`
}

func (s *source) Resolve(ctx context.Context) (*mediaresolve.MediaData, error) {
	c := s.c
	trackID, err := s.trackID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Get(ctx, fmt.Sprintf(c.cfg.TrackPageURL, trackID), nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "track page returned HTTP %d", resp.StatusCode)
	}

	raw, err := scrape.ScriptJSON(string(resp.Body), routerDataMarker)
	if err != nil {
		return nil, err
	}
	var rd routerData
	if err := scrape.DecodeJSON(raw, &rd); err != nil {
		return nil, err
	}
	audioURL := rd.LoaderData.TrackPage.AudioWithLyricsOption.URL
	if audioURL == "" {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "track page has no playable audio URL")
	}

	doc, err := scrape.Document(resp.Body)
	if err != nil {
		return nil, err
	}
	data := &mediaresolve.MediaData{
		Title:     strings.TrimSpace(doc.Find("h1.title").First().Text()),
		Author:    strings.TrimSpace(doc.Find("span.artist-name-max").First().Text()),
		Thumbnail: doc.Find(`img[alt="a-image"]`).First().AttrOr("src", ""),
	}
	doc.Find(`div[style*="color:rgba(255, 255, 255, 0.5)"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if secs := util.ParseDurationSeconds(sel.Text()); secs > 0 {
			data.DurationSeconds = secs
			return false
		}
		return true
	})

	quality := "Audio"
	data.Formats = []mediaresolve.FormatVariant{{
		Quality:     quality,
		Container:   "mp3",
		DownloadURL: audioURL,
		HasVideo:    false,
		HasAudio:    true,
		Note:        mediaresolve.FormatNote(false, true, quality),
	}}
	return data, nil
}

// trackID follows the share link's redirect without fetching the target and
// reads the track ID off the Location header. When the share URL doesn't
// redirect, its last path segment is a zlink ID that the track page accepts
// directly; the track ID is then regexed out of that page's HTML.
func (s *source) trackID(ctx context.Context) (string, error) {
	c := s.c
	resp, err := c.http.GetNoFollow(ctx, s.url, nil, nil)
	if err != nil {
		return "", err
	}
	if m := trackIDPattern.FindStringSubmatch(resp.Header.Get("Location")); m != nil {
		return m[1], nil
	}
	if zlinkID := lastPathSegment(s.url); zlinkID != "" {
		resp, err := c.http.Get(ctx, fmt.Sprintf(c.cfg.ZlinkPageURL, zlinkID), nil, nil)
		if err != nil {
			return "", err
		}
		if m := trackIDPattern.FindStringSubmatch(string(resp.Body)); m != nil {
			return m[1], nil
		}
	}
	return "", mediaresolve.NewError(mediaresolve.KindParse, "could not find a track ID behind %s", s.url)
}

func lastPathSegment(raw string) string {
	parts := strings.Split(strings.TrimRight(raw, "/"), "/")
	return parts[len(parts)-1]
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
