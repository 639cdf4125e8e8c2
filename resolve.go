package mediaresolve

import (
	"context"

	"go.uber.org/zap"
)

// Resolve matches rawText against every registered provider and resolves the
// first match. It never returns a Go error for input or upstream-classified
// failures: those come back as a MediaResult with Status "error". Panics are
// reserved for programming defects.
func Resolve(ctx context.Context, rawText string) MediaResult {
	return DefaultProviderRegistry.Resolve(ctx, rawText)
}

// ResolveWith is like Resolve but restricted to a single named provider.
func ResolveWith(ctx context.Context, providerName string, rawText string) MediaResult {
	return DefaultProviderRegistry.ResolveWith(ctx, providerName, rawText)
}

// Resolve matches rawText against the registry and resolves the match.
func (r *ProviderRegistry) Resolve(ctx context.Context, rawText string) MediaResult {
	match, err := r.Match(rawText)
	if err != nil {
		return ResultOf(NewError(KindInput, "no source URL found in input"))
	}
	return resolveMatch(ctx, match)
}

// ResolveWith matches rawText against a single named provider and resolves
// the match.
func (r *ProviderRegistry) ResolveWith(ctx context.Context, providerName string, rawText string) MediaResult {
	match, err := r.MatchWith(providerName, rawText)
	if err == ErrUnknownProvider {
		return ResultOf(NewError(KindInput, "unknown provider %q", providerName))
	} else if err != nil {
		return ResultOf(NewError(KindInput, "no %s URL found in input", providerName))
	}
	return resolveMatch(ctx, match)
}

func resolveMatch(ctx context.Context, match *Match) MediaResult {
	log := zap.S().Named("resolve").With("provider", match.ProviderName, "url", match.Source.URL())
	data, err := match.Source.Resolve(ctx)
	if err != nil {
		log.Infow("resolution failed", "kind", KindOf(err), "error", err)
		return ResultOf(err)
	}
	log.Debugw("resolution complete", "formats", len(data.Formats))
	return Success(data)
}
