// Package upstream manages the ephemeral per-provider session context a
// helper site demands before it will answer API calls: cookies (held by the
// provider's HTTP client jar), scraped hidden-form tokens, the raw signing
// configuration blob, and the signing key derived from it.
//
// Sessions are process-memory only. A cached session is served without I/O
// until its TTL lapses or it is explicitly invalidated; a refresh replaces
// the cached value wholesale, so concurrent refreshes race harmlessly
// (last successful bootstrap wins).
package upstream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/sync_"
)

// Session is one ephemeral bootstrap of an upstream helper site.
type Session struct {
	Provider string
	// Tokens are values scraped during bootstrap (hidden form inputs, script
	// config fields) that must accompany subsequent requests.
	Tokens map[string]string
	// Blob is the raw decoded signing configuration, when the provider has one.
	Blob string
	// SigningKey is derived from Blob and lives exactly as long as this Session.
	SigningKey string
	CreatedAt  time.Time
}

// Token is a nil-safe lookup.
func (s *Session) Token(name string) string {
	if s == nil {
		return ""
	}
	return s.Tokens[name]
}

// BootstrapFunc fetches a fresh Session from the upstream (homepage GET or
// equivalent handshake). It is expected to be cheap and idempotent.
type BootstrapFunc func(ctx context.Context) (*Session, error)

type entry struct {
	session *Session
	stale   bool
}

// Manager is the per-provider session cache.
type Manager struct {
	ttl     time.Duration
	now     func() time.Time
	entries *sync_.RWMutexed[map[string]*entry]
	log     *zap.SugaredLogger
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:     ttl,
		now:     time.Now,
		entries: sync_.NewRWMutexed(make(map[string]*entry)),
		log:     zap.S().Named("upstream"),
	}
}

// Acquire returns the cached session for the key if it is fresh, otherwise
// bootstraps a new one and publishes it. The lock is never held across the
// bootstrap call, so concurrent resolutions do not block each other; if two
// refreshes race, the later Set wins and both callers get a usable session.
func (m *Manager) Acquire(ctx context.Context, key string, bootstrap BootstrapFunc) (*Session, error) {
	if s := m.cached(key); s != nil {
		return s, nil
	}

	m.log.Debugw("bootstrapping session", "provider", key)
	session, err := bootstrap(ctx)
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindUpstream, err, "session bootstrap failed for %s", key)
	}
	session.Provider = key
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now()
	}

	_ = m.entries.Locked(func(entries map[string]*entry) error {
		entries[key] = &entry{session: session}
		return nil
	})
	return session, nil
}

// Invalidate marks the cached session stale, forcing the next Acquire to
// refresh. Invalidating an unknown key is a no-op.
func (m *Manager) Invalidate(key string) {
	_ = m.entries.Locked(func(entries map[string]*entry) error {
		if e, ok := entries[key]; ok {
			e.stale = true
			m.log.Debugw("session invalidated", "provider", key)
		}
		return nil
	})
}

func (m *Manager) cached(key string) *Session {
	var s *Session
	_ = m.entries.RLocked(func(entries map[string]*entry) error {
		e, ok := entries[key]
		if !ok || e.stale {
			return nil
		}
		if m.ttl > 0 && m.now().Sub(e.session.CreatedAt) >= m.ttl {
			return nil
		}
		s = e.session
		return nil
	})
	return s
}
