// Package coordinator implements the shared read path for one device: a cache of decoded ubus
// payloads in front of a single client, with request coalescing, a single in-flight fetch per
// data key, and bounded staleness.
//
// Many independent consumers poll the same device on overlapping schedules. The coordinator
// collapses their wire traffic. Fresh cache entries are served without touching the network,
// concurrent misses on a key share one fetch, and keys becoming due within a short window ride
// the same JSON-RPC batch. When the device stops answering, consumers keep receiving the
// last-good value until it ages past a ceiling; beyond that, reads fail explicitly rather than
// hand out arbitrarily old data.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/ubus"
)

const (
	// DefaultWindow is the coalescing window: how long the first due key waits before its batch
	// is flushed, so that keys becoming due at nearly the same moment share one wire call.
	DefaultWindow = 25 * time.Millisecond

	// DefaultStaleFactor bounds, as a multiple of each key's TTL, how long a failing entry may
	// keep serving its last-good value.
	DefaultStaleFactor = 3

	// DefaultFetchTimeout bounds a background wire batch.
	DefaultFetchTimeout = 30 * time.Second

	// MinFetchTimeout and MaxFetchTimeout clamp configured fetch timeouts.
	MinFetchTimeout = 5 * time.Second
	MaxFetchTimeout = 300 * time.Second
)

// Client is the part of the ubus client a Coordinator drives. *ubus.Client implements it.
type Client interface {
	Call(ctx context.Context, call ubus.Call) (json.RawMessage, error)
	CallBatch(ctx context.Context, calls []ubus.Call) []ubus.Result
	Endpoint() string
	RetryInterval() time.Duration
}

// Config carries the tuning knobs of a Coordinator.
type Config struct {
	// Window is the coalescing window. Zero selects DefaultWindow.
	Window time.Duration

	// StaleFactor is the staleness ceiling as a multiple of each key's TTL. Zero selects
	// DefaultStaleFactor.
	StaleFactor int

	// FetchTimeout bounds each background wire batch, clamped to
	// [MinFetchTimeout, MaxFetchTimeout]. Zero selects DefaultFetchTimeout.
	FetchTimeout time.Duration

	// FetchTimeoutOverrides replaces FetchTimeout for individual keys, with the same clamp.
	// A batch is bounded by the largest timeout among its keys.
	FetchTimeoutOverrides map[registry.DataKey]time.Duration

	// TTLOverrides replaces the registered TTL of individual keys for this coordinator only.
	TTLOverrides map[registry.DataKey]time.Duration
}

// Coordinator serves cached device data to concurrent consumers and executes control actions.
// One Coordinator manages exactly one device endpoint; separate devices get separate instances
// sharing no state.
type Coordinator struct {
	client Client
	reg    *registry.Registry
	config Config

	entryLock sync.Mutex
	entries   map[registry.DataKey]*entry

	windowLock sync.Mutex
	pending    []*fetch
	flushTimer *time.Timer
}

// New creates a Coordinator for the device behind client. Capabilities are resolved through
// reg; TTL overrides in config apply to a private copy, leaving reg untouched.
func New(client Client, reg *registry.Registry, config Config) *Coordinator {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.StaleFactor <= 0 {
		config.StaleFactor = DefaultStaleFactor
	}
	config.FetchTimeout = clampTimeout(config.FetchTimeout)
	if len(config.TTLOverrides) > 0 {
		reg = reg.OverrideTTL(config.TTLOverrides)
	}
	return &Coordinator{
		client:  client,
		reg:     reg,
		config:  config,
		entries: make(map[registry.DataKey]*entry),
	}
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultFetchTimeout
	case d < MinFetchTimeout:
		return MinFetchTimeout
	case d > MaxFetchTimeout:
		return MaxFetchTimeout
	}
	return d
}

// Endpoint returns the URL of the device this coordinator serves.
func (c *Coordinator) Endpoint() string {
	return c.client.Endpoint()
}

// Registry returns the coordinator's capability table. Collaborators register parameterized
// capabilities here as they discover interfaces on the device.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Get returns the value of key, fetching it when the cache holds nothing fresh. Concurrent
// callers missing on the same key share a single fetch and observe the same outcome. If the
// fetch fails but a last-good value younger than the staleness ceiling exists, that value is
// served instead; past the ceiling Get fails with protocol.StaleDataError.
func (c *Coordinator) Get(ctx context.Context, key registry.DataKey) (interface{}, error) {
	return c.get(ctx, key, -1)
}

// GetWithMaxAge is Get with a caller-specified freshness bound. The cached value is used only
// while younger than maxAge; zero forces a fetch.
func (c *Coordinator) GetWithMaxAge(ctx context.Context, key registry.DataKey, maxAge time.Duration) (interface{}, error) {
	return c.get(ctx, key, maxAge)
}

func (c *Coordinator) get(ctx context.Context, key registry.DataKey, maxAge time.Duration) (interface{}, error) {
	f, value, err := c.joinOrServe(key, maxAge)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return value, nil
	}
	return c.await(ctx, f)
}

// Outcome is the per-key result of a combined read.
type Outcome struct {
	Value interface{}
	Err   error
}

// GetCombined collects several keys for one consumer. Fresh keys are served from cache; the
// rest are fetched together, flushing the coalescing window immediately instead of waiting it
// out, and still merging with keys other consumers enqueued moments earlier. Each key gets its
// own outcome; one key failing never hides the others.
func (c *Coordinator) GetCombined(ctx context.Context, keys ...registry.DataKey) map[registry.DataKey]Outcome {
	outcomes := make(map[registry.DataKey]Outcome, len(keys))
	waits := make(map[registry.DataKey]*fetch, len(keys))
	for _, key := range keys {
		if _, ok := outcomes[key]; ok {
			continue
		}
		if _, ok := waits[key]; ok {
			continue
		}
		f, value, err := c.joinOrServe(key, -1)
		switch {
		case err != nil:
			outcomes[key] = Outcome{Err: err}
		case f == nil:
			outcomes[key] = Outcome{Value: value}
		default:
			waits[key] = f
		}
	}
	if len(waits) > 0 {
		c.flushWindow()
	}
	for key, f := range waits {
		value, err := c.await(ctx, f)
		outcomes[key] = Outcome{Value: value, Err: err}
	}
	return outcomes
}

// Invalidate drops the cached value of the given keys. The next read fetches anew, and a fetch
// already in flight when the invalidation happened can no longer populate the entry, so no
// later read observes a pre-invalidation value. Keys never read through this coordinator are
// ignored.
func (c *Coordinator) Invalidate(keys ...registry.DataKey) {
	c.entryLock.Lock()
	defer c.entryLock.Unlock()
	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		e.generation++
		e.value = nil
		e.raw = nil
		e.fetchedAt = time.Time{}
		e.lastErr = nil
		e.inflight = nil
	}
}

// Refresh fetches the given keys immediately, regardless of freshness, and waits for the
// results. Keys without a registered capability are skipped. The first failure is returned
// after every key has settled.
func (c *Coordinator) Refresh(ctx context.Context, keys ...registry.DataKey) error {
	var fetches []*fetch
	for _, key := range keys {
		e, err := c.entry(key)
		if err != nil {
			continue
		}
		c.entryLock.Lock()
		f := e.inflight
		created := f == nil
		if created {
			f = newFetch(e)
			e.inflight = f
		}
		c.entryLock.Unlock()
		if created {
			c.enqueue(f)
		}
		fetches = append(fetches, f)
	}
	if len(fetches) == 0 {
		return nil
	}
	c.flushWindow()
	var firstErr error
	for _, f := range fetches {
		if _, err := c.await(ctx, f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// joinOrServe resolves key's cache entry, then either serves the cached value (nil fetch),
// joins the fetch already in flight, or registers a new fetch in the pending window.
func (c *Coordinator) joinOrServe(key registry.DataKey, maxAge time.Duration) (*fetch, interface{}, error) {
	e, err := c.entry(key)
	if err != nil {
		return nil, nil, err
	}

	c.entryLock.Lock()
	limit := e.ttl
	if maxAge >= 0 && maxAge < limit {
		limit = maxAge
	}
	if !e.fetchedAt.IsZero() && time.Since(e.fetchedAt) < limit {
		value := e.value
		c.entryLock.Unlock()
		return nil, value, nil
	}
	f := e.inflight
	created := f == nil
	if created {
		f = newFetch(e)
		e.inflight = f
	}
	c.entryLock.Unlock()

	if created {
		c.enqueue(f)
	}
	return f, nil, nil
}

// await blocks until the fetch settles or ctx expires. An expired context abandons the wait
// without cancelling the fetch, which keeps running for the other waiters and for the cache.
func (c *Coordinator) await(ctx context.Context, f *fetch) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, &protocol.TimeoutError{Key: string(f.entry.cap.Key), Err: ctx.Err()}
	}
}

// entry returns the cache slot of key, creating it on first access. Entries live for the
// coordinator's lifetime.
func (c *Coordinator) entry(key registry.DataKey) (*entry, error) {
	c.entryLock.Lock()
	defer c.entryLock.Unlock()
	if e, ok := c.entries[key]; ok {
		return e, nil
	}
	capability, ok := c.reg.Lookup(key)
	if !ok {
		return nil, &protocol.UnknownKeyError{Key: string(key)}
	}
	e := &entry{cap: capability, ttl: capability.TTL}
	c.entries[key] = e
	return e, nil
}
