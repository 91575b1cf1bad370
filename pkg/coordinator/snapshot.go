package coordinator

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/registry"
)

// An EntrySnapshot is the persistable last-good state of one cache entry.
type EntrySnapshot struct {
	Key       registry.DataKey `json:"key"`
	Raw       json.RawMessage  `json:"raw"`
	FetchedAt time.Time        `json:"fetched_at"`
	TTL       time.Duration    `json:"ttl"`
}

// Snapshot captures the last-good payload of every entry currently holding data, in key order.
func (c *Coordinator) Snapshot() []EntrySnapshot {
	c.entryLock.Lock()
	defer c.entryLock.Unlock()
	snaps := make([]EntrySnapshot, 0, len(c.entries))
	for key, e := range c.entries {
		if e.fetchedAt.IsZero() || e.raw == nil {
			continue
		}
		snaps = append(snaps, EntrySnapshot{Key: key, Raw: e.raw, FetchedAt: e.fetchedAt, TTL: e.ttl})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })
	return snaps
}

// RestoreSnapshot seeds the cache from a previous run. A restored value behaves exactly like a
// fetched one: while fresh it serves reads directly, and once due it becomes the last-good
// fallback until the staleness ceiling. Snapshots older than what an entry already holds, keys
// without a registered capability, and payloads that no longer decode are skipped.
func (c *Coordinator) RestoreSnapshot(snaps []EntrySnapshot) {
	for _, snap := range snaps {
		e, err := c.entry(snap.Key)
		if err != nil {
			log.Debug("Skipping snapshot entry %s: %s", snap.Key, err)
			continue
		}
		var value interface{} = snap.Raw
		if e.cap.Decode != nil {
			if value, err = e.cap.Decode(snap.Raw); err != nil {
				log.Warning("Skipping snapshot entry %s: %s", snap.Key, err)
				continue
			}
		}
		c.entryLock.Lock()
		if e.fetchedAt.Before(snap.FetchedAt) {
			e.value = value
			e.raw = snap.Raw
			e.fetchedAt = snap.FetchedAt
			e.lastErr = nil
		}
		c.entryLock.Unlock()
	}
}
