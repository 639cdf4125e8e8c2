package mediaresolve

import "context"

// Progress is a point-in-time snapshot of where a resolution is in its
// protocol: which stage is running and, while polling, how far along the
// upstream says the conversion is.
type Progress struct {
	// Stage is one of "bootstrap", "init", "convert", "poll", "normalize".
	Stage string
	// Percent is 0-100, or -1 when the stage has no measurable progress.
	Percent int
	// Attempt and MaxAttempts describe the poll loop, zero elsewhere.
	Attempt     int
	MaxAttempts int
}

// ProgressFunc receives progress snapshots. It is called synchronously from
// the resolving goroutine and must not block.
type ProgressFunc func(Progress)

type progressContextKey struct{}

// WithProgress attaches a progress callback to the context for the duration
// of a resolution.
func WithProgress(ctx context.Context, f ProgressFunc) context.Context {
	return context.WithValue(ctx, progressContextKey{}, f)
}

// ReportProgress delivers a snapshot to the context's callback, if any.
func ReportProgress(ctx context.Context, p Progress) {
	if f, ok := ctx.Value(progressContextKey{}).(ProgressFunc); ok && f != nil {
		f(p)
	}
}
