package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/generic"
	"github.com/grabtap/mediaresolve/internal/sync_"
)

var (
	ErrResolutionClosed = errors.New("resolution closed")
)

type ResolutionID string

func NewResolutionID() ResolutionID {
	return ResolutionID(generic.Unwrap(uuid.NewRandom()).String())
}

type ResolutionStatus string

const (
	ResolutionStatusUndefined ResolutionStatus = ""
	ResolutionStatusNew       ResolutionStatus = "new"
	ResolutionStatusMatching  ResolutionStatus = "matching"
	ResolutionStatusMatched   ResolutionStatus = "matched"
	ResolutionStatusResolving ResolutionStatus = "resolving"
	ResolutionStatusReady     ResolutionStatus = "ready"
	ResolutionStatusFailed    ResolutionStatus = "failed"
)

var runningStatuses = generic.NewSet(
	ResolutionStatusMatching,
	ResolutionStatusResolving,
)

// IsRunning returns true if the status is one where some active process should be updating the resolution in some way.
func (s ResolutionStatus) IsRunning() bool {
	return runningStatuses.Contains(s)
}

// NonRunning returns the closest preceding status where IsRunning is false, which may be the same status if IsRunning
// is already false.
func (s ResolutionStatus) NonRunning() ResolutionStatus {
	switch s {
	case ResolutionStatusMatching:
		return ResolutionStatusNew
	case ResolutionStatusResolving:
		return ResolutionStatusMatched
	default:
		return s
	}
}

type ResolutionState struct {
	ID      ResolutionID
	Input   string
	AddedAt time.Time
	Status  ResolutionStatus
	Error   string

	// Data from the "match" stage
	Provider string
	URL      string

	// Data from the "resolve" stage
	Stage    string
	Progress int
	Result   *mediaresolve.MediaResult
}

type Resolution struct {
	ResolutionState

	session   *Session
	ctx       context.Context
	ctxCancel context.CancelFunc

	running  sync_.Event
	stopped  sync_.Event
	complete sync_.Event

	done          chan struct{}
	startCommand  chan struct{}
	stopCommand   chan struct{}
	stateCommand  chan chan generic.Result[ResolutionState]
	updateCommand chan func(*ResolutionState)
	resolved      chan mediaresolve.MediaResult

	workCancel context.CancelFunc
}

func newResolution(session *Session, state ResolutionState) (*Resolution, error) {
	if state.ID == "" || state.Input == "" {
		return nil, errors.New("resolution state missing ID or input")
	}
	ctx, cancel := context.WithCancel(session.ctx)
	r := &Resolution{
		ResolutionState: state,

		session:   session,
		ctx:       ctx,
		ctxCancel: cancel,

		done:          make(chan struct{}),
		startCommand:  make(chan struct{}),
		stopCommand:   make(chan struct{}),
		stateCommand:  make(chan chan generic.Result[ResolutionState]),
		updateCommand: make(chan func(*ResolutionState)),
		resolved:      make(chan mediaresolve.MediaResult, 1),
	}
	go r.run()
	return r, nil
}

func (r *Resolution) String() string {
	return fmt.Sprintf("Resolution{ID:%q, Input:%q, Status:%q}", r.ID, r.Input, r.Status)
}

func (r *Resolution) log() *zap.SugaredLogger {
	return zap.S().Named("resolution").With("resolution_id", r.ID)
}

func (r *Resolution) State() (ResolutionState, error) {
	ch := make(chan generic.Result[ResolutionState], 1)
	select {
	case r.stateCommand <- ch:
		select {
		case result := <-ch:
			return result.Parts()
		case <-r.ctx.Done():
			return generic.Err[ResolutionState](ErrResolutionClosed).Parts()
		}
	case <-r.ctx.Done():
		return generic.Err[ResolutionState](ErrResolutionClosed).Parts()
	}
}

func (r *Resolution) Start() {
	select {
	case r.startCommand <- struct{}{}:
	case <-r.ctx.Done():
	}
}

func (r *Resolution) Stop() {
	select {
	case r.stopCommand <- struct{}{}:
	case <-r.ctx.Done():
	}
}

func (r *Resolution) Running() <-chan struct{} {
	return r.running.Wait()
}

func (r *Resolution) Stopped() <-chan struct{} {
	return r.stopped.Wait()
}

func (r *Resolution) Complete() <-chan struct{} {
	return r.complete.Wait()
}

// IsComplete returns true if the "complete" flag was set. Useful to check after waiting on Stopped.
func (r *Resolution) IsComplete() bool {
	return r.complete.IsSet()
}

func (r *Resolution) Close() {
	r.ctxCancel()
	<-r.done
}

func (r *Resolution) Done() <-chan struct{} {
	return r.done
}

func (r *Resolution) run() {
	r.stopped.Set()

	for {
		select {
		case <-r.ctx.Done():
			r.close()
			close(r.done)
			return
		case ch := <-r.stateCommand:
			select {
			case ch <- generic.Ok[ResolutionState](r.ResolutionState):
			case <-r.ctx.Done():
			}
		case <-r.startCommand:
			r.start()
		case <-r.stopCommand:
			r.stop(nil)
		case f := <-r.updateCommand:
			r.updateState(f)
		case result := <-r.resolved:
			r.finish(result)
		}
	}
}

func (r *Resolution) close() {
	r.stop(nil)
}

func (r *Resolution) start() {
	if !r.stopped.Clear() {
		// Already running (or being started) so nothing to do
		return
	}
	r.running.Set()
	r.session.publish(ResolutionStarted{resolutionEvent{r}})

	workCtx, workCancel := context.WithCancel(r.ctx)
	r.workCancel = workCancel
	go r.resolve(workCtx)
}

func (r *Resolution) stop(err error) {
	if !r.running.Clear() {
		// Not running (or already stopping) so nothing to do
		return
	}
	if r.workCancel != nil {
		r.workCancel()
		r.workCancel = nil
	}
	r.updateState(func(rs *ResolutionState) {
		if err != nil && rs.Error == "" {
			rs.Error = err.Error()
		}
		rs.Status = rs.Status.NonRunning()
	})
	r.stopped.Set()
	r.session.publish(ResolutionStopped{resolutionEvent{r}, err})
}

func (r *Resolution) finish(result mediaresolve.MediaResult) {
	r.updateState(func(rs *ResolutionState) {
		rs.Result = &result
		if result.Status == mediaresolve.StatusSuccess {
			rs.Status = ResolutionStatusReady
			rs.Error = ""
		} else {
			rs.Status = ResolutionStatusFailed
			rs.Error = result.Message
		}
	})
	r.complete.Set()
	if !r.running.Clear() {
		return
	}
	r.stopped.Set()
	r.session.publish(ResolutionStopped{resolutionEvent{r}, nil})
}

func (r *Resolution) updateState(f func(*ResolutionState)) {
	old := r.ResolutionState
	f(&r.ResolutionState)
	if r.ResolutionState != old {
		r.session.publish(ResolutionUpdated{resolutionEvent{r}, old, r.ResolutionState})
	}
}

// update applies a state mutation from outside the run goroutine.
func (r *Resolution) update(f func(*ResolutionState)) {
	select {
	case r.updateCommand <- f:
	case <-r.ctx.Done():
	}
}

// resolve runs the match + resolve pipeline, delivering the final result back
// to the run goroutine. It is the only code here that does network I/O.
func (r *Resolution) resolve(ctx context.Context) {
	log := r.log()
	input := r.Input
	registry := r.session.config.ProviderRegistry

	r.update(func(rs *ResolutionState) { rs.Status = ResolutionStatusMatching })
	match, err := registry.Match(input)
	if err != nil {
		log.Debugw("no provider matched", "error", err)
		r.deliver(ctx, mediaresolve.ResultOf(mediaresolve.NewError(mediaresolve.KindInput, "no source URL found in input")))
		return
	}
	log.Infow("matched", "provider", match.ProviderName, "url", match.Source.URL())
	r.update(func(rs *ResolutionState) {
		rs.Status = ResolutionStatusMatched
		rs.Provider = match.ProviderName
		rs.URL = match.Source.URL()
	})

	r.update(func(rs *ResolutionState) { rs.Status = ResolutionStatusResolving })
	ctx = mediaresolve.WithProgress(ctx, r.progressFunc())
	data, err := match.Source.Resolve(ctx)
	if err != nil {
		log.Infow("resolution failed", "kind", mediaresolve.KindOf(err), "error", err)
		r.deliver(ctx, mediaresolve.ResultOf(err))
		return
	}
	log.Infow("resolution complete", "formats", len(data.Formats))
	r.deliver(ctx, mediaresolve.Success(data))
}

func (r *Resolution) deliver(ctx context.Context, result mediaresolve.MediaResult) {
	// A stopped resolution must not complete with a stale result.
	if ctx.Err() != nil {
		return
	}
	select {
	case r.resolved <- result:
	case <-ctx.Done():
	}
}

// progressFunc throttles progress snapshots to the session's update interval
// so a fast poll loop doesn't flood subscribers; terminal snapshots always go
// through.
func (r *Resolution) progressFunc() mediaresolve.ProgressFunc {
	interval := r.session.config.ProgressUpdateInterval
	var last time.Time
	return func(p mediaresolve.Progress) {
		now := time.Now()
		if p.Percent < 100 && !last.IsZero() && now.Sub(last) < interval {
			return
		}
		last = now
		r.update(func(rs *ResolutionState) {
			rs.Stage = p.Stage
			if p.Percent >= 0 {
				rs.Progress = p.Percent
			}
		})
	}
}
