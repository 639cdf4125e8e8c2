// Package protocol drives the init → convert → redirect* → poll* shape some
// upstream helper sites use: an init endpoint hands out a convert URL, the
// convert endpoint may bounce through a capped redirect chain, and conversion
// progress is polled on a bounded loop until the payload reports completion,
// an explicit upstream error code, or the attempt budget runs out.
package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/httpx"
	"github.com/grabtap/mediaresolve/util"
)

// State is where a resolution is in the protocol. Failed is reachable from
// every other state.
type State string

const (
	StateIdle         State = "idle"
	StateSessionReady State = "session_ready"
	StateInitiated    State = "initiated"
	StateConverting   State = "converting"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

// progressComplete is the upstream progress value that means the conversion
// finished and the download URL is live.
const progressComplete = 3

// KeyFunc supplies the current signing token. It is consulted before every
// call so that a session refreshed mid-resolution signs later calls with the
// new token.
type KeyFunc func(ctx context.Context) (string, error)

// Convert is one provider's configuration of the driver.
type Convert struct {
	Client *httpx.Client
	// InitURL is the provider's init endpoint.
	InitURL string
	// Format is the target container, sent as the "f" parameter.
	Format string
	// Key signs every request; the token is base64-encoded on the wire.
	Key KeyFunc
	// Headers accompany every call.
	Headers map[string]string
	// MaxRedirectHops caps convert-URL redirect chains.
	MaxRedirectHops int
	// MaxPollAttempts and PollInterval bound the progress loop.
	MaxPollAttempts int
	PollInterval    time.Duration
}

// Job is the terminal payload of a successful conversion.
type Job struct {
	DownloadURL string
	Title       string
}

type payload struct {
	Error       flexInt `json:"error"`
	Progress    flexInt `json:"progress"`
	Redirect    flexInt `json:"redirect"`
	RedirectURL string  `json:"redirectURL"`
	ConvertURL  string  `json:"convertURL"`
	ProgressURL string  `json:"progressURL"`
	DownloadURL string  `json:"downloadURL"`
	Title       string  `json:"title"`
}

// Run executes the whole protocol for one source URL. Within the resolution,
// steps run strictly in protocol order; every network call inherits the
// caller's deadline.
func (c *Convert) Run(ctx context.Context, sourceURL string) (*Job, error) {
	log := zap.S().Named("protocol").With("source", sourceURL)
	state := StateSessionReady

	init, err := c.call(ctx, c.InitURL, nil)
	if err != nil {
		return nil, c.fail(log, state, err)
	}
	if init.Error.Value > 0 {
		return nil, c.fail(log, state, mediaresolve.NewError(mediaresolve.KindConversion, "init rejected with upstream error code %d", init.Error.Value))
	}
	if init.ConvertURL == "" {
		return nil, c.fail(log, state, mediaresolve.NewError(mediaresolve.KindParse, "init response has no convert URL"))
	}
	state = StateInitiated
	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "init", Percent: -1})

	conv, err := c.convert(ctx, log, init.ConvertURL, sourceURL)
	if err != nil {
		return nil, c.fail(log, state, err)
	}
	state = StateConverting
	mediaresolve.ReportProgress(ctx, mediaresolve.Progress{Stage: "convert", Percent: -1})

	title := conv.Title
	if conv.Progress.Value < progressComplete {
		if conv.ProgressURL == "" {
			return nil, c.fail(log, state, mediaresolve.NewError(mediaresolve.KindParse, "convert response has neither completion nor progress URL"))
		}
		polled, err := c.poll(ctx, log, conv.ProgressURL)
		if err != nil {
			return nil, c.fail(log, state, err)
		}
		if polled.Title != "" {
			title = polled.Title
		}
	}

	if conv.DownloadURL == "" {
		return nil, c.fail(log, state, mediaresolve.NewError(mediaresolve.KindParse, "convert response has no download URL"))
	}
	log.Debugw("conversion ready", "state", StateReady)
	return &Job{DownloadURL: conv.DownloadURL, Title: title}, nil
}

// convert calls the convert endpoint, following explicit redirect payloads to
// replacement convert URLs up to the hop cap.
func (c *Convert) convert(ctx context.Context, log *zap.SugaredLogger, convertURL string, sourceURL string) (*payload, error) {
	params := url.Values{
		"v": []string{sourceURL},
		"f": []string{c.Format},
	}
	for hop := 0; ; hop++ {
		resp, err := c.call(ctx, convertURL, params)
		if err != nil {
			return nil, err
		}
		if resp.Error.Value > 0 {
			return nil, mediaresolve.NewError(mediaresolve.KindConversion, "conversion rejected with upstream error code %d", resp.Error.Value)
		}
		if resp.Redirect.Value != 1 {
			return resp, nil
		}
		if hop >= c.MaxRedirectHops {
			return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "convert redirect chain exceeded %d hops", c.MaxRedirectHops)
		}
		next := cleanURL(resp.RedirectURL)
		if next == "" {
			return nil, mediaresolve.NewError(mediaresolve.KindParse, "redirect payload has no redirect URL")
		}
		log.Debugw("following convert redirect", "hop", hop+1, "url", next)
		convertURL = next
	}
}

// poll checks the progress URL on a fixed interval, bounded by the attempt
// budget. The worst case runs MaxPollAttempts polls and then fails with a
// poll timeout.
func (c *Convert) poll(ctx context.Context, log *zap.SugaredLogger, progressURL string) (*payload, error) {
	for attempt := 1; attempt <= c.MaxPollAttempts; attempt++ {
		resp, err := c.call(ctx, progressURL, nil)
		if err != nil {
			return nil, err
		}
		if resp.Error.Value > 0 {
			return nil, mediaresolve.NewError(mediaresolve.KindConversion, "conversion failed with upstream error code %d", resp.Error.Value)
		}
		percent := resp.Progress.Value * 100 / progressComplete
		if percent > 100 {
			percent = 100
		}
		mediaresolve.ReportProgress(ctx, mediaresolve.Progress{
			Stage:       "poll",
			Percent:     percent,
			Attempt:     attempt,
			MaxAttempts: c.MaxPollAttempts,
		})
		if resp.Progress.Value >= progressComplete {
			return resp, nil
		}
		log.Debugw("conversion in progress", "attempt", attempt, "progress", resp.Progress.Value)
		if attempt == c.MaxPollAttempts {
			break
		}
		if err := httpx.Sleep(ctx, c.PollInterval); err != nil {
			return nil, mediaresolve.WrapError(mediaresolve.KindPollTimeout, err, "poll loop aborted by deadline")
		}
	}
	return nil, mediaresolve.NewError(mediaresolve.KindPollTimeout, "conversion did not complete within %d polls", c.MaxPollAttempts)
}

// call signs and issues one protocol request and decodes its payload.
func (c *Convert) call(ctx context.Context, rawURL string, extra url.Values) (*payload, error) {
	key, err := c.Key(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"k": []string{base64.StdEncoding.EncodeToString([]byte(key))},
		"_": []string{util.NowMillis()},
	}
	for name, values := range extra {
		params[name] = values
	}
	resp, err := c.Client.Get(ctx, rawURL, params, c.Headers)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, mediaresolve.NewError(mediaresolve.KindUpstream, "HTTP %d from %s", resp.StatusCode, rawURL)
	}
	// The upstream HTML-escapes ampersands in URLs it returns.
	body := strings.ReplaceAll(string(resp.Body), "&amp;", "&")
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindParse, err, "protocol response is not valid JSON")
	}
	return &p, nil
}

func (c *Convert) fail(log *zap.SugaredLogger, from State, err error) error {
	log.Debugw("protocol failed", "from_state", from, "error", err)
	return err
}

// cleanURL strips the backslash escaping upstreams apply to URLs embedded in
// JSON strings.
func cleanURL(s string) string {
	return strings.ReplaceAll(s, `\`, "")
}

// flexInt is a JSON number that may arrive as a string, a float, or be
// absent; absence decodes to zero.
type flexInt struct {
	Value int
}

func (v *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		v.Value = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		v.Value = n
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v.Value = int(f)
		return nil
	}
	return mediaresolve.NewError(mediaresolve.KindParse, "numeric field has non-numeric value %s", string(data))
}
