package ubus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/wrtkit/router-command/pkg/protocol"
)

func TestRequestEnvelope(t *testing.T) {
	req := newRequest(7, NullSessionID, Call{Object: "system", Method: "board"})
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":7,"method":"call","params":["` + NullSessionID + `","system","board",{}]}`
	if string(payload) != want {
		t.Errorf("Unexpected envelope:\n got %s\nwant %s", payload, want)
	}
}

func TestEncodeRequestsBatch(t *testing.T) {
	single, err := encodeRequests([]request{newRequest(1, "abc", Call{Object: "system", Method: "info"})})
	if err != nil {
		t.Fatal(err)
	}
	if single[0] != '{' {
		t.Errorf("Expected single request as bare object, got %s", single)
	}
	batch, err := encodeRequests([]request{
		newRequest(1, "abc", Call{Object: "system", Method: "info"}),
		newRequest(2, "abc", Call{Object: "system", Method: "board"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if batch[0] != '[' {
		t.Errorf("Expected multiple requests as array, got %s", batch)
	}
}

func TestDecodeResponsesSingleAndBatch(t *testing.T) {
	rsps, err := decodeResponses([]byte(`{"jsonrpc":"2.0","id":3,"result":[0,{"uptime":12}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(rsps) != 1 || rsps[0].ID != 3 {
		t.Errorf("Unexpected single response decode: %+v", rsps)
	}

	rsps, err = decodeResponses([]byte(` [{"jsonrpc":"2.0","id":1,"result":[0,{}]},{"jsonrpc":"2.0","id":2,"error":{"code":-32002,"message":"Access denied"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(rsps) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(rsps))
	}
	if rsps[1].Error == nil || rsps[1].Error.Code != protocol.RPCAccessDenied {
		t.Errorf("Expected access denied error envelope, got %+v", rsps[1])
	}

	if _, err := decodeResponses([]byte("not json")); !errors.Is(err, protocol.ErrBadResponse) {
		t.Errorf("Expected ErrBadResponse for garbage body, got %v", err)
	}
	if _, err := decodeResponses(nil); !errors.Is(err, protocol.ErrBadResponse) {
		t.Errorf("Expected ErrBadResponse for empty body, got %v", err)
	}
}

func TestDecodeResult(t *testing.T) {
	raw, err := decodeResult("system", "info", json.RawMessage(`[0,{"uptime":42}]`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(raw) != `{"uptime":42}` {
		t.Errorf("Unexpected payload: %s", raw)
	}

	// Methods without return data answer with a bare status array.
	raw, err = decodeResult("system", "reboot", json.RawMessage(`[0]`))
	if err != nil || raw != nil {
		t.Errorf("Expected empty success, got %s, %v", raw, err)
	}

	_, err = decodeResult("hostapd.wlan0", "del_client", json.RawMessage(`[6]`))
	var callErr *protocol.CallError
	if !errors.As(err, &callErr) || callErr.Status != protocol.StatusPermissionDenied {
		t.Errorf("Expected permission denied CallError, got %v", err)
	}

	if _, err := decodeResult("system", "info", json.RawMessage(`{}`)); !errors.Is(err, protocol.ErrBadResponse) {
		t.Errorf("Expected ErrBadResponse for non-array result, got %v", err)
	}
}
