// Package session tracks the lifecycle of media link resolutions: each
// Resolution moves through matching and resolving to a final result, and every
// state change is published to subscribers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/pubsub"
	"github.com/grabtap/mediaresolve/internal/sync_"
)

var (
	ErrUnknownResolution = errors.New("unknown resolution")
)

type Config struct {
	ProviderRegistry *mediaresolve.ProviderRegistry
	// Minimum interval between ResolutionUpdated events from progress updates.
	ProgressUpdateInterval time.Duration
}

var DefaultConfig = Config{
	ProviderRegistry:       &mediaresolve.DefaultProviderRegistry,
	ProgressUpdateInterval: 500 * time.Millisecond,
}

type resolutionsByID = map[ResolutionID]*Resolution

type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	resolutions *sync_.RWMutexed[resolutionsByID]
	events      pubsub.Publisher[Event]
}

func New(config Config, ctx context.Context) (*Session, error) {
	if config.ProviderRegistry == nil {
		config.ProviderRegistry = DefaultConfig.ProviderRegistry
	}
	if config.ProgressUpdateInterval <= 0 {
		config.ProgressUpdateInterval = DefaultConfig.ProgressUpdateInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       zap.S().Named("session"),

		resolutions: sync_.NewRWMutexed(make(resolutionsByID)),
	}
	s.events = pubsub.NewPublisher[Event]()
	return s, nil
}

func (s *Session) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return s.events.Subscribe()
}

// SubscribeToResolution is like Subscribe but only delivers events about one
// resolution.
func (s *Session) SubscribeToResolution(id ResolutionID) (pubsub.ReceiverCloser[Event], error) {
	ch := pubsub.NewChannel[Event](pubsub.DefaultSubscriberBufSize)
	filtered := pubsub.NewFilteredSender[Event](ch, func(e Event) bool {
		r := e.Resolution()
		return r != nil && r.ID == id
	})
	if err := s.events.AddSubscriber(filtered); err != nil {
		return nil, err
	}
	return ch, nil
}

// AddResolution creates a Resolution for the input text and starts tracking
// it. The resolution does not run until Resolution.Start is called.
func (s *Session) AddResolution(input string) (*Resolution, error) {
	rs := ResolutionState{}
	rs.ID = NewResolutionID()
	rs.Input = input
	rs.Status = ResolutionStatusNew
	rs.AddedAt = time.Now()
	return s.insertResolution(rs)
}

func (s *Session) insertResolution(rs ResolutionState) (*Resolution, error) {
	id := rs.ID
	r, err := newResolution(s, rs)
	if err != nil {
		return nil, err
	}
	err = s.resolutions.Locked(func(resolutions resolutionsByID) error {
		if _, ok := resolutions[id]; ok {
			return errors.New("duplicate resolution ID")
		} else {
			resolutions[id] = r
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	s.log.Debugf("resolution added: %v", r)
	s.publish(ResolutionAdded{resolutionEvent{r}})
	return r, nil
}

// RemoveResolution stops tracking a resolution and shuts it down.
func (s *Session) RemoveResolution(id ResolutionID) error {
	var r *Resolution
	err := s.resolutions.Locked(func(resolutions resolutionsByID) error {
		var ok bool
		if r, ok = resolutions[id]; !ok {
			return ErrUnknownResolution
		}
		delete(resolutions, id)
		return nil
	})
	if err != nil {
		return err
	}
	r.Close()
	s.publish(ResolutionRemoved{resolutionEvent{r}})
	return nil
}

func (s *Session) ListResolutions() []*Resolution {
	var list []*Resolution
	_ = s.resolutions.RLocked(func(resolutions resolutionsByID) error {
		list = make([]*Resolution, 0, len(resolutions))
		for _, r := range resolutions {
			list = append(list, r)
		}
		return nil
	})
	return list
}

func (s *Session) GetResolution(id ResolutionID) (r *Resolution) {
	_ = s.resolutions.RLocked(func(resolutions resolutionsByID) error {
		r = resolutions[id]
		return nil
	})
	return r
}

func (s *Session) publish(e Event) {
	s.events.Send(e)
}

func (s *Session) Close() {
	s.ctxCancel()
	resolutions := s.resolutions.Swap(nil)
	var wg sync.WaitGroup
	wg.Add(len(resolutions))
	for _, r := range resolutions {
		go func(r *Resolution) {
			r.Close()
			wg.Done()
		}(r)
	}
	wg.Wait()
	s.events.Close()
}
