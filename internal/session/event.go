package session

type Event interface {
	// The Resolution this event relates to (nil if not a Resolution-specific event).
	Resolution() *Resolution
}

type resolutionEvent struct {
	resolution *Resolution
}

func (e resolutionEvent) Resolution() *Resolution {
	return e.resolution
}

type ResolutionAdded struct {
	resolutionEvent
}
type ResolutionRemoved struct {
	resolutionEvent
}
type ResolutionStarted struct {
	resolutionEvent
}
type ResolutionStopped struct {
	resolutionEvent
	Err error
}
type ResolutionUpdated struct {
	resolutionEvent
	OldState ResolutionState
	NewState ResolutionState
}
