package mediaresolve

import "context"

// A Source is a validated, normalized source URL bound to the provider that
// matched it, able to drive that provider's resolution protocol.
type Source interface {
	// URL returns the canonical URL for this source. It is assumed that the
	// Provider.Match that created the Source would match this canonical URL
	// again.
	URL() string
	// Resolve drives the provider's protocol (bootstrap, init/convert/poll,
	// or scrape) and normalizes the upstream payload into media data. The
	// caller's context deadline bounds every network call and the poll loop.
	Resolve(ctx context.Context) (*MediaData, error)
}
