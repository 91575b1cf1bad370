package ubus

import (
	"bytes"
	"encoding/json"

	"github.com/wrtkit/router-command/pkg/protocol"
)

// NullSessionID is the placeholder token used for calls that precede authentication. The login
// call itself is issued under this token.
const NullSessionID = "00000000000000000000000000000000"

const (
	rpcVersion = "2.0"
	rpcCall    = "call"
	rpcList    = "list"
)

// A Call names a ubus object and method together with its arguments.
type Call struct {
	Object string
	Method string
	Params map[string]interface{}
}

// A Result holds the outcome of a single call within a batch. Raw is the call's payload (the
// second element of the ubus result array) and may be nil for methods that return no data.
type Result struct {
	Raw json.RawMessage
	Err error
}

// request is a JSON-RPC request envelope. For "call" requests Params is the ubus quadruple
// [session, object, method, arguments]; for "list" requests it is [session, pattern].
type request struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newRequest(id uint64, sid string, call Call) request {
	args := call.Params
	if args == nil {
		args = map[string]interface{}{}
	}
	return request{
		Version: rpcVersion,
		ID:      id,
		Method:  rpcCall,
		Params:  []interface{}{sid, call.Object, call.Method, args},
	}
}

func newListRequest(id uint64, sid, pattern string) request {
	return request{
		Version: rpcVersion,
		ID:      id,
		Method:  rpcList,
		Params:  []interface{}{sid, pattern},
	}
}

// encodeRequests marshals one or more request envelopes. A single request is sent as a bare
// object; multiple requests become a JSON-RPC batch array.
func encodeRequests(reqs []request) ([]byte, error) {
	if len(reqs) == 1 {
		return json.Marshal(reqs[0])
	}
	return json.Marshal(reqs)
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// response is a JSON-RPC response envelope. Exactly one of Result and Error is populated.
type response struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *responseError  `json:"error"`
}

// decodeResponses parses a response body that may be a single envelope or a batch array.
// Response order within a batch is not guaranteed; callers correlate by ID.
func decodeResponses(body []byte) ([]response, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, protocol.ErrBadResponse
	}
	if trimmed[0] == '[' {
		var rsps []response
		if err := json.Unmarshal(trimmed, &rsps); err != nil {
			return nil, protocol.ErrBadResponse
		}
		return rsps, nil
	}
	var rsp response
	if err := json.Unmarshal(trimmed, &rsp); err != nil {
		return nil, protocol.ErrBadResponse
	}
	return []response{rsp}, nil
}

// decodeResult splits a dispatched call's result array [status, payload] into its payload,
// converting a non-zero status into a typed error. Methods without return data yield a bare
// [status] array and a nil payload.
func decodeResult(object, method string, raw json.RawMessage) (json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return nil, protocol.ErrBadResponse
	}
	var status int
	if err := json.Unmarshal(elems[0], &status); err != nil {
		return nil, protocol.ErrBadResponse
	}
	if err := protocol.StatusError(object, method, protocol.Status(status)); err != nil {
		return nil, err
	}
	if len(elems) > 1 {
		return elems[1], nil
	}
	return nil, nil
}
