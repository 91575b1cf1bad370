package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/ubus"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func testSnaps() []coordinator.EntrySnapshot {
	fetched := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	return []coordinator.EntrySnapshot{
		{Key: "system_board", Raw: json.RawMessage(`{"model":"GL.iNet GL-MT6000"}`), FetchedAt: fetched, TTL: 5 * time.Minute},
		{Key: "system_info", Raw: json.RawMessage(`{"uptime":3600}`), FetchedAt: fetched.Add(time.Second), TTL: 2 * time.Minute},
	}
}

func requireSameSnaps(t *testing.T, expected, actual []coordinator.EntrySnapshot) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].Key, actual[i].Key)
		require.JSONEq(t, string(expected[i].Raw), string(actual[i].Raw))
		require.True(t, expected[i].FetchedAt.Equal(actual[i].FetchedAt),
			"fetch time drifted: %v vs %v", expected[i].FetchedAt, actual[i].FetchedAt)
		require.Equal(t, expected[i].TTL, actual[i].TTL)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	endpoint := "http://192.168.1.1/ubus"

	require.NoError(t, store.Save(endpoint, testSnaps()))
	loaded, err := store.Load(endpoint)
	require.NoError(t, err)
	requireSameSnaps(t, testSnaps(), loaded)
}

func TestLoadUnknownEndpoint(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.Load("http://10.0.0.1/ubus")
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestSaveReplacesPreviousSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	endpoint := "http://192.168.1.1/ubus"

	require.NoError(t, store.Save(endpoint, testSnaps()))
	require.NoError(t, store.Save(endpoint, testSnaps()[:1]))

	loaded, err := store.Load(endpoint)
	require.NoError(t, err)
	requireSameSnaps(t, testSnaps()[:1], loaded)

	require.NoError(t, store.Save(endpoint, nil))
	loaded, err = store.Load(endpoint)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestPersistsAcrossReopen(t *testing.T) {
	store, path := newTestStore(t)
	endpoint := "http://192.168.1.1/ubus"

	require.NoError(t, store.Save(endpoint, testSnaps()))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(endpoint)
	require.NoError(t, err)
	requireSameSnaps(t, testSnaps(), loaded)
}

func TestEndpoints(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save("http://10.0.0.1/ubus", testSnaps()))
	require.NoError(t, store.Save("http://10.0.0.2/ubus", testSnaps()[:1]))

	endpoints, err := store.Endpoints()
	require.NoError(t, err)
	require.Equal(t, []string{"http://10.0.0.1/ubus", "http://10.0.0.2/ubus"}, endpoints)
}

func TestSkipsCorruptRecords(t *testing.T) {
	store, _ := newTestStore(t)
	endpoint := "http://192.168.1.1/ubus"
	require.NoError(t, store.Save(endpoint, testSnaps()))

	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(endpoint)).Put([]byte("aaa_corrupt"), []byte("{not json"))
	}))

	loaded, err := store.Load(endpoint)
	require.NoError(t, err)
	requireSameSnaps(t, testSnaps(), loaded)
}

// fakeClient answers every fetched method with a recognizable payload and counts wire batches.
type fakeClient struct {
	lock    sync.Mutex
	batches int
}

func (f *fakeClient) CallBatch(ctx context.Context, calls []ubus.Call) []ubus.Result {
	f.lock.Lock()
	f.batches++
	f.lock.Unlock()
	results := make([]ubus.Result, len(calls))
	for i, call := range calls {
		results[i] = ubus.Result{Raw: json.RawMessage(fmt.Sprintf(`{"method":%q}`, call.Method))}
	}
	return results
}

func (f *fakeClient) Call(ctx context.Context, call ubus.Call) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) Endpoint() string             { return "http://192.168.1.1/ubus" }
func (f *fakeClient) RetryInterval() time.Duration { return time.Millisecond }

func rawRegistry(keys ...registry.DataKey) *registry.Registry {
	r := registry.New()
	for _, key := range keys {
		r.MustRegister(registry.Capability{Key: key, Object: "test", Method: string(key), TTL: time.Minute, Retries: 1})
	}
	return r
}

func TestCoordinatorWarmRestart(t *testing.T) {
	store, _ := newTestStore(t)
	key := registry.DataKey("alpha")

	first := coordinator.New(&fakeClient{}, rawRegistry(key), coordinator.Config{Window: time.Millisecond})
	_, err := first.Get(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, store.SaveCoordinator(first))

	cold := &fakeClient{}
	second := coordinator.New(cold, rawRegistry(key), coordinator.Config{Window: time.Millisecond})
	require.NoError(t, store.RestoreCoordinator(second))

	value, err := second.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`{"method":"alpha"}`), value)
	require.Zero(t, cold.batches, "restored entry should not hit the wire")
}
