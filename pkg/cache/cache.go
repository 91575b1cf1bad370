package cache

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Entry holds the session state of a single device endpoint.
type Entry struct {
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's session lifetime has elapsed.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

type SessionCache struct {
	MaxEntries int
	Endpoints  map[string]Entry `json:"endpoints"`
	lock       sync.Mutex
}

// New returns a SessionCache that holds session state for up to maxEntries devices.
// The SessionCache evicts the entry with the oldest login time when full, with the caveat that
// for this purpose an entry is refreshed when the client logs in, not when it's loaded from or
// saved to the SessionCache.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *SessionCache {
	return &SessionCache{
		MaxEntries: maxEntries,
		Endpoints:  make(map[string]Entry),
	}
}

// Import a SessionCache using data in r.
// The data should previously have been generated using [SessionCache.Export].
func Import(r io.Reader) (*SessionCache, error) {
	var cache SessionCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Endpoints == nil {
		cache.Endpoints = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a SessionCache from disk.
func ImportFromFile(filename string) (*SessionCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized SessionCache to w.
func (c *SessionCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a SessionCache to disk.
func (c *SessionCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Update the SessionCache's entry for an endpoint with current session state.
// An entry without a session id removes the endpoint from the cache.
func (c *SessionCache) Update(endpoint string, entry Entry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if entry.SessionID == "" {
		delete(c.Endpoints, endpoint)
		return nil
	}

	c.Endpoints[endpoint] = entry
	if c.MaxEntries > 0 && len(c.Endpoints) > c.MaxEntries {
		// TODO: Replace with a proper cache
		oldestEndpoint := endpoint
		oldestIssueTime := time.Now()
		for e, cached := range c.Endpoints {
			if cached.IssuedAt.Before(oldestIssueTime) {
				oldestEndpoint = e
				oldestIssueTime = cached.IssuedAt
			}
		}
		delete(c.Endpoints, oldestEndpoint)
	}
	return nil
}

// GetEntry returns the session state associated with endpoint. Entries whose session lifetime
// has already elapsed are dropped and reported as misses.
func (c *SessionCache) GetEntry(endpoint string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Endpoints[endpoint]
	if !ok {
		return Entry{}, false
	}
	if entry.Expired(time.Now()) {
		delete(c.Endpoints, endpoint)
		return Entry{}, false
	}
	return entry, true
}
