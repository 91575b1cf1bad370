// Package snapshot persists a coordinator's last-good cache entries across process restarts.
// A daemon saves its coordinators on shutdown and restores them on startup, so consumers see
// data immediately instead of waiting out the first fetch of every key. Restored entries come
// back with their original fetch times; anything older than its TTL is refreshed on first use
// and the staleness ceiling keeps ancient snapshots from being served at all.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/coordinator"
)

// Store keeps cache snapshots in a bbolt database, one bucket per device endpoint.
type Store struct {
	db *bbolt.DB
}

// New wraps an open bbolt database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Open opens the snapshot database at path, creating it when absent.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshots of endpoint with snaps. An empty list clears the
// endpoint's bucket.
func (s *Store) Save(endpoint string, snaps []coordinator.EntrySnapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(endpoint)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(endpoint))
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			data, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(snap.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the snapshots stored for endpoint, in key order. An endpoint never saved yields
// no snapshots and no error. Records that no longer parse are skipped with a warning, so one
// corrupt record cannot block a restart.
func (s *Store) Load(endpoint string) ([]coordinator.EntrySnapshot, error) {
	var snaps []coordinator.EntrySnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(endpoint))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var snap coordinator.EntrySnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				log.Warning("Skipping unreadable snapshot record %q for %s: %s", k, endpoint, err)
				return nil
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// Endpoints lists the endpoints with stored snapshots.
func (s *Store) Endpoints() ([]string, error) {
	var endpoints []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			endpoints = append(endpoints, string(name))
			return nil
		})
	})
	return endpoints, err
}

// SaveCoordinator stores c's current cache under its endpoint.
func (s *Store) SaveCoordinator(c *coordinator.Coordinator) error {
	return s.Save(c.Endpoint(), c.Snapshot())
}

// RestoreCoordinator seeds c with the entries stored under its endpoint.
func (s *Store) RestoreCoordinator(c *coordinator.Coordinator) error {
	snaps, err := s.Load(c.Endpoint())
	if err != nil {
		return err
	}
	c.RestoreSnapshot(snaps)
	return nil
}
