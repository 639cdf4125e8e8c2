package mediaresolve

import "time"

// Config holds the engine-wide tunables every provider starts from. A
// provider's own Config embeds these values and may override them; tests use
// millisecond-scale budgets.
type Config struct {
	// RequestTimeout bounds each individual network call. A call exceeding it
	// fails that attempt only, not the whole resolution.
	RequestTimeout time.Duration
	// RequestRetries is how many times a single failed call is retried before
	// the resolution fails as upstream-unavailable.
	RequestRetries int
	// RetryDelay is the pause between retries of a failed call.
	RetryDelay time.Duration
	// PollInterval is the pause between conversion progress polls.
	PollInterval time.Duration
	// MaxPollAttempts bounds the poll loop; the worst-case wall-clock time of
	// polling is MaxPollAttempts * PollInterval.
	MaxPollAttempts int
	// MaxRedirectHops caps convert-URL redirect chains to guard against
	// redirect loops.
	MaxRedirectHops int
	// SessionTTL is the freshness window of a cached upstream session.
	SessionTTL time.Duration
	// UserAgent is sent on every upstream request unless a provider overrides it.
	UserAgent string
}

var DefaultConfig = Config{
	RequestTimeout:  10 * time.Second,
	RequestRetries:  3,
	RetryDelay:      2 * time.Second,
	PollInterval:    3 * time.Second,
	MaxPollAttempts: 40,
	MaxRedirectHops: 5,
	SessionTTL:      10 * time.Minute,
	UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}
