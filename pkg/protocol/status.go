// Package protocol defines the error taxonomy and wire-level status codes shared by the transport,
// cache coordinator, and tooling in this module.
//
// The remote endpoint is a ubus JSON-RPC server (uhttpd-mod-ubus). Failures surface at two layers:
// the JSON-RPC layer rejects a request outright with an error object (RPCError), while a dispatched
// call reports a ubus status code in its result (Status). Both are folded into the Error
// categorization interface so retry policy can be decided without inspecting concrete types.
package protocol

import (
	"errors"
	"fmt"
)

// Status is a ubus dispatch status, reported as the first element of a call's result array.
type Status int

const (
	StatusOK               Status = 0
	StatusInvalidCommand   Status = 1
	StatusInvalidArgument  Status = 2
	StatusMethodNotFound   Status = 3
	StatusNotFound         Status = 4
	StatusNoData           Status = 5
	StatusPermissionDenied Status = 6
	StatusTimeout          Status = 7
	StatusNotSupported     Status = 8
	StatusUnknownError     Status = 9
	StatusConnectionFailed Status = 10
)

var statusNames = map[Status]string{
	StatusOK:               "ok",
	StatusInvalidCommand:   "invalid command",
	StatusInvalidArgument:  "invalid argument",
	StatusMethodNotFound:   "method not found",
	StatusNotFound:         "not found",
	StatusNoData:           "no data",
	StatusPermissionDenied: "permission denied",
	StatusTimeout:          "request timed out",
	StatusNotSupported:     "not supported",
	StatusUnknownError:     "unknown error",
	StatusConnectionFailed: "connection failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unrecognized status code %d", int(s))
}

// A CallError indicates the device dispatched a call and the target object reported a non-zero
// status.
type CallError struct {
	Object string
	Method string
	Status Status
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Object, e.Method, e.Status)
}

func (e *CallError) MayHaveSucceeded() bool {
	// StatusTimeout means the object did not answer in time, not that the request never ran.
	return e.Status == StatusTimeout
}

// retriableStatuses can sometimes be remedied if the client retries the call.
var retriableStatuses = []Status{
	StatusTimeout,
	StatusConnectionFailed,
}

func (e *CallError) Temporary() bool {
	for _, status := range retriableStatuses {
		if e.Status == status {
			return true
		}
	}
	return false
}

// StatusError converts a ubus dispatch status into a typed error, returning nil for StatusOK.
func StatusError(object, method string, status Status) error {
	if status == StatusOK {
		return nil
	}
	return &CallError{Object: object, Method: method, Status: status}
}

// JSON-RPC error codes returned by uhttpd-mod-ubus.
const (
	RPCParseError      = -32700
	RPCInvalidRequest  = -32600
	RPCMethodNotFound  = -32601
	RPCInvalidParams   = -32602
	RPCInternalError   = -32603
	RPCObjectNotFound  = -32000
	RPCSessionNotFound = -32001
	RPCAccessDenied    = -32002
	RPCRequestTimedOut = -32003
)

// An RPCError is an error object returned by the JSON-RPC layer itself, before or instead of ubus
// dispatch.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) MayHaveSucceeded() bool {
	// The server timed out waiting on ubus; the call may still have run to completion.
	return e.Code == RPCRequestTimedOut
}

func (e *RPCError) Temporary() bool {
	return e.Code == RPCRequestTimedOut || e.Code == RPCInternalError
}

// IsInvalidSession reports whether err means the session token was rejected. uhttpd returns
// -32001 for tokens it no longer knows and -32002 when a token's ACL does not cover the call;
// expired sessions manifest as either, so both drive re-authentication.
func IsInvalidSession(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == RPCSessionNotFound || rpcErr.Code == RPCAccessDenied
	}
	return false
}
