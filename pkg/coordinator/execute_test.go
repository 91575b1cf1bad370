package coordinator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
)

func restartAction(invalidates ...registry.DataKey) registry.Action {
	return registry.Action{
		Name:        "restart_service",
		Object:      "rc",
		Method:      "init",
		Params:      map[string]interface{}{"name": "dnsmasq", "action": "restart"},
		Idempotent:  true,
		Invalidates: invalidates,
	}
}

func TestExecuteInvalidatesAndRefreshes(t *testing.T) {
	fc := newFakeClient()
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)
	ctx := context.Background()

	before, err := c.Get(ctx, keyAlpha)
	if err != nil {
		t.Fatal(err)
	}
	fc.setAnswer(staticAnswer(map[string]string{
		"init":  `{}`,
		"alpha": `{"restarted":true}`,
	}))

	if _, err := c.Execute(ctx, restartAction(keyAlpha)); err != nil {
		t.Fatal(err)
	}
	if n := fc.batchCount(); n != 2 {
		t.Fatalf("refresh did not run before Execute returned: %d batches", n)
	}

	after, err := c.Get(ctx, keyAlpha)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(after, before) {
		t.Error("read after the action returned the pre-action value")
	}
	assertRaw(t, after, `{"restarted":true}`)
	if n := fc.batchCount(); n != 2 {
		t.Errorf("read after the refresh hit the wire again: %d batches", n)
	}
	if n := fc.commandCount(); n != 1 {
		t.Errorf("action issued %d wire calls, expected 1", n)
	}
}

func TestExecuteSkipsUnregisteredInvalidations(t *testing.T) {
	fc := newFakeClient()
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)

	if _, err := c.Execute(context.Background(), restartAction("hostapd_clients:hostapd.wlan0")); err != nil {
		t.Fatal(err)
	}
	if n := fc.batchCount(); n != 0 {
		t.Errorf("unregistered invalidation caused %d fetches", n)
	}
}

func TestExecuteRetriesIdempotentActionOnce(t *testing.T) {
	fc := newFakeClient()
	fc.commandFailures = []error{&protocol.NetworkError{Err: errors.New("connection reset"), Sent: true}}
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)

	if _, err := c.Execute(context.Background(), restartAction()); err != nil {
		t.Fatal(err)
	}
	if n := fc.commandCount(); n != 2 {
		t.Errorf("action issued %d wire calls, expected a single retry", n)
	}
}

func TestExecuteDoesNotRetryNonIdempotentAction(t *testing.T) {
	fc := newFakeClient()
	fc.commandFailures = []error{&protocol.NetworkError{Err: errors.New("connection reset"), Sent: true}}
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)

	kick := registry.Action{
		Name:       "kick_station",
		Object:     "hostapd.wlan0",
		Method:     "del_client",
		Params:     map[string]interface{}{"addr": "AA:BB:CC:DD:EE:FF"},
		Idempotent: false,
	}
	_, err := c.Execute(context.Background(), kick)
	var netErr *protocol.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected the transport failure to surface, got %v", err)
	}
	if n := fc.commandCount(); n != 1 {
		t.Errorf("non-idempotent action issued %d wire calls, expected 1", n)
	}
}

func TestExecuteDoesNotRetryTerminalFailure(t *testing.T) {
	fc := newFakeClient()
	fc.commandFailures = []error{&protocol.AuthError{Err: errors.New("access denied")}}
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)

	_, err := c.Execute(context.Background(), restartAction())
	var authErr *protocol.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if n := fc.commandCount(); n != 1 {
		t.Errorf("terminal failure retried: %d wire calls", n)
	}
}

func TestExecuteSurfacesDeviceFailure(t *testing.T) {
	fc := newFakeClient()
	fc.setAnswer(failingAnswer(protocol.StatusPermissionDenied))
	c := newTestCoordinator(fc, Config{Window: time.Millisecond}, keyAlpha)

	_, err := c.Execute(context.Background(), restartAction(keyAlpha))
	var callErr *protocol.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if n := fc.batchCount(); n != 0 {
		t.Errorf("failed action still refreshed %d batches", n)
	}
}
