package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/ubus"
)

// entry is the cache slot of one data key, created on first access and kept for the
// coordinator's lifetime. All mutable fields are guarded by the coordinator's entryLock.
type entry struct {
	cap registry.Capability
	ttl time.Duration

	value      interface{}
	raw        json.RawMessage
	fetchedAt  time.Time
	lastErr    error
	generation uint64
	inflight   *fetch
}

// fetch is one in-flight refresh of one key. The outcome fields are written exactly once,
// before done is closed; waiters read them only after done.
type fetch struct {
	entry      *entry
	call       ubus.Call
	retries    int
	generation uint64
	done       chan struct{}

	value     interface{}
	fetchedAt time.Time
	err       error

	// attemptErr holds the latest transient failure, reported if the batch deadline expires
	// with retries still pending.
	attemptErr error
}

// newFetch requires the caller to hold entryLock.
func newFetch(e *entry) *fetch {
	return &fetch{
		entry:      e,
		call:       ubus.Call{Object: e.cap.Object, Method: e.cap.Method, Params: e.cap.Params},
		retries:    e.cap.Retries,
		generation: e.generation,
		done:       make(chan struct{}),
	}
}

// enqueue adds f to the pending batch, arming the coalescing window when f is the first key.
func (c *Coordinator) enqueue(f *fetch) {
	c.windowLock.Lock()
	c.pending = append(c.pending, f)
	if c.flushTimer == nil {
		c.flushTimer = time.AfterFunc(c.config.Window, c.flushWindow)
	}
	c.windowLock.Unlock()
}

// flushWindow drains the pending batch and hands it to the client. It runs when the window
// timer fires and when GetCombined or Refresh forces an early flush.
func (c *Coordinator) flushWindow() {
	c.windowLock.Lock()
	batch := c.pending
	c.pending = nil
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.windowLock.Unlock()
	if len(batch) == 0 {
		return
	}
	go c.runBatch(batch)
}

// runBatch issues one wire batch for a drained window, retrying transient per-key failures
// until each key's retries or the batch deadline run out. The context is detached from the
// callers on purpose: a consumer abandoning its wait must not starve the remaining waiters
// or the cache.
func (c *Coordinator) runBatch(batch []*fetch) {
	timeout := c.config.FetchTimeout
	for _, f := range batch {
		if t, ok := c.config.FetchTimeoutOverrides[f.entry.cap.Key]; ok && t > 0 {
			if t = clampTimeout(t); t > timeout {
				timeout = t
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	remaining := batch
	for {
		calls := make([]ubus.Call, len(remaining))
		for i, f := range remaining {
			calls[i] = f.call
		}
		results := c.client.CallBatch(ctx, calls)

		var retry []*fetch
		for i, f := range remaining {
			res := results[i]
			if res.Err != nil && f.retries > 0 && protocol.Temporary(res.Err) {
				// Fetches are reads; repeating one is safe even when the failed attempt may
				// have reached the device.
				f.retries--
				f.attemptErr = res.Err
				retry = append(retry, f)
				continue
			}
			c.settle(f, res.Raw, res.Err)
		}
		if len(retry) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			for _, f := range retry {
				c.settle(f, nil, f.attemptErr)
			}
			return
		case <-time.After(c.client.RetryInterval()):
		}
		remaining = retry
	}
}

// settle records the outcome of one fetch on its entry and releases the waiters. A fetch whose
// entry was invalidated after the fetch started still reports its outcome to its own waiters
// but leaves the entry alone, so a read issued after the invalidation can never observe data
// fetched before it.
func (c *Coordinator) settle(f *fetch, raw json.RawMessage, err error) {
	var value interface{}
	if err == nil {
		if f.entry.cap.Decode != nil {
			value, err = f.entry.cap.Decode(raw)
		} else {
			value = raw
		}
	}
	now := time.Now()

	c.entryLock.Lock()
	e := f.entry
	current := f.generation == e.generation
	switch {
	case err == nil:
		if current {
			e.value = value
			e.raw = raw
			e.fetchedAt = now
			e.lastErr = nil
		}
		f.value = value
		f.fetchedAt = now
	case current:
		e.lastErr = err
		age := now.Sub(e.fetchedAt)
		switch {
		case e.fetchedAt.IsZero():
			f.err = err
		case age <= c.staleCeiling(e.ttl):
			// Serve the last-good value; the entry stays due, so the next read tries again.
			log.Warning("Fetching %s failed, serving %v old data: %s", e.cap.Key, age.Round(time.Second), err)
			f.value = e.value
			f.fetchedAt = e.fetchedAt
		default:
			f.err = &protocol.StaleDataError{Key: string(e.cap.Key), Age: age, LastErr: err}
		}
	default:
		f.err = err
	}
	if e.inflight == f {
		e.inflight = nil
	}
	c.entryLock.Unlock()
	close(f.done)
}

// staleCeiling is the maximum age at which a failing entry may still serve its last-good value.
func (c *Coordinator) staleCeiling(ttl time.Duration) time.Duration {
	return time.Duration(c.config.StaleFactor) * ttl
}
