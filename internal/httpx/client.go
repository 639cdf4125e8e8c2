// Package httpx is the outbound HTTP layer shared by every provider: default
// headers, an ephemeral cookie jar, a per-call timeout, and a bounded retry
// budget for transport-level failures.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
)

type Config struct {
	// Timeout bounds each individual call attempt.
	Timeout time.Duration
	// Retries is how many additional attempts a failed call gets before the
	// call fails for good.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Headers are sent on every request; per-request headers override them.
	Headers map[string]string
	// MaxRedirects caps automatic redirect following (0 means the net/http
	// default of 10).
	MaxRedirects int
}

// Client wraps http.Client with the behavior every upstream helper site
// needs. Cookies live in a process-memory jar and die with the Client.
type Client struct {
	cfg      Config
	http     *http.Client
	noFollow *http.Client
	log      *zap.SugaredLogger
}

func New(cfg Config) *Client {
	jar, _ := cookiejar.New(nil)
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Jar: jar, CheckRedirect: checkRedirect},
		noFollow: &http.Client{Jar: jar, CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}},
		log: zap.S().Named("httpx"),
	}
}

// Response is a fully-read upstream response. Non-2xx statuses are returned
// here rather than as errors, because some protocols react to specific
// statuses (e.g. refreshing a session on 403).
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the request URL after any automatic redirects.
	FinalURL string
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body, classifying failures as parse errors.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return mediaresolve.WrapError(mediaresolve.KindParse, err, "response body is not valid JSON")
	}
	return nil
}

// Get issues a GET with optional query parameters and extra headers.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*Response, error) {
	return c.do(ctx, c.http, http.MethodGet, rawURL, params, headers, "", nil)
}

// GetNoFollow issues a GET that does not follow redirects, so the caller can
// inspect the Location header.
func (c *Client) GetNoFollow(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*Response, error) {
	return c.do(ctx, c.noFollow, http.MethodGet, rawURL, params, headers, "", nil)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, params url.Values, form url.Values, headers map[string]string) (*Response, error) {
	return c.do(ctx, c.http, http.MethodPost, rawURL, params, headers,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// PostJSON issues an application/json POST.
func (c *Client) PostJSON(ctx context.Context, rawURL string, params url.Values, body interface{}, headers map[string]string) (*Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindParse, err, "failed to encode request body")
	}
	return c.do(ctx, c.http, http.MethodPost, rawURL, params, headers, "application/json", bytes.NewReader(encoded))
}

// ResolveRedirects follows a (short) link to its final URL without consuming
// the body meaningfully. Used to expand share links before ID extraction.
func (c *Client) ResolveRedirects(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Get(ctx, rawURL, nil, nil)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", mediaresolve.NewError(mediaresolve.KindUpstream, "failed to follow redirect: HTTP %d", resp.StatusCode)
	}
	return resp.FinalURL, nil
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method string, rawURL string, params url.Values, headers map[string]string, contentType string, body io.Reader) (*Response, error) {
	// The body reader must be rebuildable for retries, so buffer it up front.
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = io.ReadAll(body); err != nil {
			return nil, mediaresolve.WrapError(mediaresolve.KindUpstream, err, "failed to read request body")
		}
	}

	target := rawURL
	if len(params) > 0 {
		if strings.Contains(target, "?") {
			target += "&" + params.Encode()
		} else {
			target += "?" + params.Encode()
		}
	}

	var lastErr error
	attempts := c.cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.log.Debugw("retrying request", "method", method, "url", rawURL, "attempt", attempt)
			if err := Sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, mediaresolve.WrapError(mediaresolve.KindUpstream, err, "request aborted")
			}
		}
		resp, err := c.attempt(ctx, httpClient, method, target, headers, contentType, bodyBytes)
		if err != nil {
			lastErr = err
			continue
		}
		// 5xx is worth retrying; everything else is the caller's problem.
		if resp.StatusCode >= 500 {
			lastErr = mediaresolve.NewError(mediaresolve.KindUpstream, "HTTP %d from %s", resp.StatusCode, rawURL)
			continue
		}
		return resp, nil
	}
	return nil, mediaresolve.WrapError(mediaresolve.KindUpstream, lastErr, "%s %s failed after %d attempts", method, rawURL, attempts)
}

func (c *Client) attempt(ctx context.Context, httpClient *http.Client, method string, target string, headers map[string]string, contentType string, body []byte) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// Sleep waits for the duration unless the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honour an already-expired context.
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
