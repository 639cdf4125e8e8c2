// Package easydl is the catch-all resolver: it accepts any URL and hands it
// to a general-purpose downloader API that covers the long tail of sites. It
// registers at the lowest priority so dedicated providers win when they match.
package easydl

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/util"
)

const providerName = "easydl"

// keySuffix is appended to the derived request key verbatim.
const keySuffix = "+hesm+ihsesnfec+ue"

type Config struct {
	mediaresolve.Config
	APIURL string
}

func NewConfig() Config {
	return Config{
		Config: mediaresolve.DefaultConfig,
		APIURL: "https://api.easydownloader.app/api-extract/",
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
				"Accept":     "application/json",
				"Origin":     "https://easydownloader.app",
				"Referer":    "https://easydownloader.app/",
			},
		}),
		log: zap.S().Named(providerName),
	}
	return mediaresolve.Provider{Name: providerName, Match: c.match}
}

func (c *client) match(text string) (mediaresolve.Source, error) {
	raw, err := util.FirstURL(text)
	if err != nil {
		return nil, err
	}
	return &source{c: c, url: raw}, nil
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

// payload is the extractor API's response shape. Title and thumbnail live on
// each final_urls entry rather than at the top level.
type payload struct {
	Err       int    `json:"err"`
	Message   string `json:"msg"`
	FinalURLs []struct {
		Title string `json:"title"`
		Thumb string `json:"thumb"`
		Links []struct {
			URL          string `json:"link_url"`
			FileQuality  string `json:"file_quality"`
			QualityUnits string `json:"file_quality_units"`
			FileType     string `json:"file_type"`
			Size         int64  `json:"file_size"`
		} `json:"links"`
	} `json:"final_urls"`
}

func (s *source) Resolve(ctx context.Context) (*mediaresolve.MediaData, error) {
	c := s.c
	body := map[string]any{
		"video_url":  s.url,
		"pagination": false,
		"key":        requestKey(s.url, util.NowMillis()),
	}
	resp, err := c.http.PostJSON(ctx, c.cfg.APIURL, nil, body, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "extract request returned HTTP %d", resp.StatusCode)
	}
	var p payload
	if err := resp.JSON(&p); err != nil {
		return nil, err
	}
	if p.Err != 0 {
		msg := p.Message
		if msg == "" {
			msg = "extractor reported failure"
		}
		return nil, mediaresolve.NewError(mediaresolve.KindConversion, "%s", msg)
	}
	return s.normalize(&p)
}

// requestKey derives the API key the extractor expects: the md5 of the
// base64-encoded "millis+host" pair, plus a fixed suffix.
func requestKey(target string, millis string) string {
	host := ""
	if parsed, err := url.Parse(target); err == nil {
		host = parsed.Hostname()
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(millis + "+" + host))
	sum := md5.Sum([]byte(encoded))
	return hex.EncodeToString(sum[:]) + keySuffix
}

func (s *source) normalize(p *payload) (*mediaresolve.MediaData, error) {
	data := &mediaresolve.MediaData{}
	for _, group := range p.FinalURLs {
		if data.Title == "" {
			data.Title = group.Title
		}
		if data.Thumbnail == "" {
			data.Thumbnail = group.Thumb
		}
		for _, link := range group.Links {
			if link.URL == "" {
				continue
			}
			quality := strings.TrimSpace(link.FileQuality + " " + link.QualityUnits)
			if quality == "" {
				quality = "Default " + strconv.Itoa(len(data.Formats)+1)
			}
			audioOnly := link.FileType == "mp3" || link.FileType == "m4a" || link.FileType == "audio"
			variant := mediaresolve.FormatVariant{
				Quality:     quality,
				Container:   link.FileType,
				DownloadURL: link.URL,
				HasVideo:    !audioOnly,
				HasAudio:    true,
			}
			if link.Size > 0 {
				size := link.Size
				variant.SizeBytes = &size
			}
			variant.Note = mediaresolve.FormatNote(variant.HasVideo, variant.HasAudio, quality)
			data.Formats = append(data.Formats, variant)
		}
	}
	if len(data.Formats) == 0 {
		return nil, mediaresolve.NewError(mediaresolve.KindParse, "extractor response has no downloadable links")
	}
	return data, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New().WithPriority(mediaresolve.PriorityLowest))
}
