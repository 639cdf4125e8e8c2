// Package ytmp3 resolves YouTube watch/short links into audio download URLs
// by driving a helper site whose API sits behind a rotating, obfuscated
// signing configuration and an init/convert/poll protocol.
package ytmp3

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/internal/protocol"
	"github.com/grabtap/mediaresolve/internal/signature"
	"github.com/grabtap/mediaresolve/internal/upstream"
)

const providerName = "ytmp3"

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtu\.be/([a-zA-Z0-9\-_]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9\-_]{11})`),
	regexp.MustCompile(`[?&]v=([a-zA-Z0-9\-_]{11})`),
}

type Config struct {
	mediaresolve.Config
	// HomeURL is the page carrying the embedded signing snippet.
	HomeURL string
	// InitURL is the conversion API's init endpoint.
	InitURL string
	// Format is the target container requested from the converter.
	Format string
	// Origin/Referer the API expects to see.
	Origin string
}

func NewConfig() Config {
	return Config{
		Config:  mediaresolve.DefaultConfig,
		HomeURL: "https://ytmp3.la/",
		InitURL: "https://d.ummn.nu/api/v1/init",
		Format:  "mp3",
		Origin:  "https://ytmp3.la",
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
				"Accept":          "*/*",
				"Accept-Language": "en-US,en;q=0.9",
				"Origin":          cfg.Origin,
				"Referer":         cfg.Origin + "/",
			},
		}),
		sessions: upstream.NewManager(cfg.SessionTTL),
		log:      zap.S().Named(providerName),
	}
	return mediaresolve.Provider{Name: providerName, Match: c.match}
}

func (c *client) match(text string) (mediaresolve.Source, error) {
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return &source{c: c, videoID: m[1]}, nil
		}
	}
	return nil, fmt.Errorf("no YouTube video URL found in text")
}

type source struct {
	c       *client
	videoID string
}

func (s *source) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", s.videoID)
}

func (s *source) String() string {
	return s.URL()
}

func (s *source) Resolve(ctx context.Context) (*mediaresolve.MediaData, error) {
	c := s.c
	driver := &protocol.Convert{
		Client:          c.http,
		InitURL:         c.cfg.InitURL,
		Format:          c.cfg.Format,
		Key:             c.signingKey,
		MaxRedirectHops: c.cfg.MaxRedirectHops,
		MaxPollAttempts: c.cfg.MaxPollAttempts,
		PollInterval:    c.cfg.PollInterval,
	}
	job, err := driver.Run(ctx, s.URL())
	if err != nil {
		return nil, err
	}

	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "normalize", Percent: 100})
	return &mediaresolve.MediaData{
		Title: job.Title,
		Formats: []mediaresolve.FormatVariant{{
			Quality:     "audio",
			Container:   c.cfg.Format,
			DownloadURL: job.DownloadURL,
			HasAudio:    true,
			Note:        mediaresolve.FormatNote(false, true, "audio"),
		}},
	}, nil
}

// signingKey returns the current session's derived token. A signature
// derivation failure forces exactly one session refresh before surfacing,
// since the usual cause is a configuration rotation mid-TTL.
func (c *client) signingKey(ctx context.Context) (string, error) {
	session, err := c.sessions.Acquire(ctx, providerName, c.bootstrap)
	if err != nil && mediaresolve.IsKind(err, mediaresolve.KindSignature) {
		c.log.Infow("signing config rejected, refreshing session", "error", err)
		c.sessions.Invalidate(providerName)
		session, err = c.sessions.Acquire(ctx, providerName, c.bootstrap)
	}
	if err != nil {
		return "", err
	}
	return session.SigningKey, nil
}

// bootstrap fetches the homepage and derives the signing key from its
// embedded snippet. The key lives exactly as long as the session.
func (c *client) bootstrap(ctx context.Context) (*upstream.Session, error) {
	resp, err := c.http.Get(ctx, c.cfg.HomeURL, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "homepage returned HTTP %d", resp.StatusCode)
	}
	blob, err := signature.ExtractBlob(string(resp.Body))
	if err != nil {
		return nil, err
	}
	cfg, err := signature.ParseConfig(blob)
	if err != nil {
		return nil, err
	}
	key, err := cfg.Derive()
	if err != nil {
		return nil, err
	}
	c.log.Debugw("derived signing key", "prefix", cfg.TokenPrefix)
	return &upstream.Session{Blob: blob, SigningKey: key}, nil
}

func init() {
	mediaresolve.DefaultProviderRegistry.MustAdd(New())
}
