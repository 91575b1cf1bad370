package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
)

// ErrStopped is returned by Subscribe after the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// An Update carries one polling cycle's outcomes to a subscriber.
type Update struct {
	Outcomes map[registry.DataKey]coordinator.Outcome
	Taken    time.Time
}

// A Subscription is one consumer's periodic read of a fixed key set. Updates arrive on the
// channel returned by Updates; Stop ends delivery. Stopping a subscription abandons its own
// waits but never cancels fetches other consumers share.
type Subscription struct {
	id       uuid.UUID
	keys     []registry.DataKey
	interval time.Duration
	updates  chan Update
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Keys returns the keys the subscription polls.
func (s *Subscription) Keys() []registry.DataKey {
	return append([]registry.DataKey(nil), s.keys...)
}

// Updates returns the delivery channel. The channel is closed once the subscription stops.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Stop ends the subscription and returns once the polling loop has exited and the update
// channel is closed. Stop is safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

// A Scheduler runs periodic data subscriptions against one coordinator. Subscriptions with
// overlapping keys and aligned schedules share wire batches through the coordinator's
// coalescing window.
type Scheduler struct {
	source Source

	lock   sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewScheduler creates a Scheduler reading through source.
func NewScheduler(source Source) *Scheduler {
	return &Scheduler{source: source, subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe starts polling keys every interval, beginning with an immediate read. Every key
// must already have a registered capability. When the subscriber does not drain its channel,
// updates are dropped rather than queued; each cycle's outcomes replace nothing older than one
// interval.
func (s *Scheduler) Subscribe(interval time.Duration, keys ...registry.DataKey) (*Subscription, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("subscription interval must be positive, got %v", interval)
	}
	if len(keys) == 0 {
		return nil, errors.New("subscription needs at least one key")
	}
	reg := s.source.Registry()
	for _, key := range keys {
		if _, ok := reg.Lookup(key); !ok {
			return nil, &protocol.UnknownKeyError{Key: string(key)}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:       uuid.New(),
		keys:     append([]registry.DataKey(nil), keys...),
		interval: interval,
		updates:  make(chan Update, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		cancel()
		return nil, ErrStopped
	}
	s.subs[sub.id] = sub
	s.lock.Unlock()

	go s.run(ctx, sub)
	log.Debug("Subscription %s polling %v every %v", sub.id, keys, interval)
	return sub, nil
}

// Unsubscribe stops the subscription with the given id, if it is still running.
func (s *Scheduler) Unsubscribe(id uuid.UUID) {
	s.lock.Lock()
	sub := s.subs[id]
	s.lock.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// Stop ends every subscription and rejects new ones. It returns once all polling loops have
// exited.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.lock.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
}

func (s *Scheduler) run(ctx context.Context, sub *Subscription) {
	defer func() {
		s.lock.Lock()
		delete(s.subs, sub.id)
		s.lock.Unlock()
		close(sub.updates)
		close(sub.done)
	}()
	ticker := time.NewTicker(sub.interval)
	defer ticker.Stop()
	for {
		outcomes := s.source.GetCombined(ctx, sub.keys...)
		if ctx.Err() != nil {
			return
		}
		select {
		case sub.updates <- Update{Outcomes: outcomes, Taken: time.Now()}:
		default:
			log.Debug("Subscription %s dropped an update because the subscriber is not reading", sub.id)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
