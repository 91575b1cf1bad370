// Package ubus implements a session-authenticated JSON-RPC client for the ubus message bus that
// OpenWrt devices expose over HTTP through uhttpd-mod-ubus.
//
// A Client owns at most one session with its device. Calls are issued in batches; the client
// manages login, session expiry, and transparent re-authentication when the device reports a
// stale token mid-batch.
package ubus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/connector"
	"github.com/wrtkit/router-command/pkg/protocol"
)

const (
	// DefaultSessionTimeout is the session lifetime requested at login.
	DefaultSessionTimeout = 5 * time.Minute

	// DefaultExpiryMargin is how long before a session's estimated expiry the client stops
	// trusting the token.
	DefaultExpiryMargin = 10 * time.Second

	// DefaultMaxBatchCalls caps the number of calls carried by one wire request.
	DefaultMaxBatchCalls = 16

	// DefaultLoginRetries is the number of additional login attempts made after transient
	// failures.
	DefaultLoginRetries = 2
)

// Config carries the credentials and tuning knobs for a Client.
type Config struct {
	Username string
	Password string

	// SessionTimeout is the session lifetime requested at login. Zero selects
	// DefaultSessionTimeout. The device may grant a shorter lifetime.
	SessionTimeout time.Duration

	// ExpiryMargin is how long before estimated expiry a token stops being used. Zero selects
	// DefaultExpiryMargin.
	ExpiryMargin time.Duration

	// LoginRetries is the number of additional login attempts after transient failures. Negative
	// disables retries; zero selects DefaultLoginRetries.
	LoginRetries int

	// MaxBatchCalls caps calls per wire request; larger batches are split across requests. Zero
	// selects DefaultMaxBatchCalls.
	MaxBatchCalls int
}

// Client is a ubus JSON-RPC client bound to a single device endpoint.
type Client struct {
	conn   connector.Connector
	config Config

	lastID atomic.Uint64

	sessionLock sync.Mutex
	session     *session
}

// NewClient creates a Client that exchanges payloads through conn.
func NewClient(conn connector.Connector, config Config) *Client {
	if config.SessionTimeout == 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}
	if config.ExpiryMargin == 0 {
		config.ExpiryMargin = DefaultExpiryMargin
	}
	if config.LoginRetries == 0 {
		config.LoginRetries = DefaultLoginRetries
	} else if config.LoginRetries < 0 {
		config.LoginRetries = 0
	}
	if config.MaxBatchCalls <= 0 {
		config.MaxBatchCalls = DefaultMaxBatchCalls
	}
	return &Client{conn: conn, config: config}
}

// Endpoint returns the URL of the device this client talks to.
func (c *Client) Endpoint() string {
	return c.conn.Endpoint()
}

// Close releases the underlying connection. The client must not be used afterwards.
func (c *Client) Close() {
	c.conn.Close()
}

// RetryInterval fetches the transport-layer dependent recommended delay between retry attempts.
func (c *Client) RetryInterval() time.Duration {
	return c.conn.RetryInterval()
}

func (c *Client) nextID() uint64 {
	return c.lastID.Add(1)
}

// Call issues a single ubus call and returns its payload.
func (c *Client) Call(ctx context.Context, call Call) (json.RawMessage, error) {
	results := c.CallBatch(ctx, []Call{call})
	return results[0].Raw, results[0].Err
}

// CallBatch issues calls as one or more JSON-RPC batch requests and returns one Result per call,
// in call order. Each call fails or succeeds independently; a transport failure of a wire request
// fails every call it carried.
//
// When the device reports the session as invalid for some sub-calls, the client re-authenticates
// once (shared across concurrent batches) and retries exactly those sub-calls. A second
// invalid-session reply surfaces as an AuthError.
func (c *Client) CallBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	sid, err := c.EnsureSession(ctx)
	if err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	indices := make([]int, len(calls))
	for i := range indices {
		indices[i] = i
	}
	c.dispatch(ctx, sid, calls, indices, results)

	var retry []int
	for _, i := range indices {
		if protocol.IsInvalidSession(results[i].Err) {
			retry = append(retry, i)
		}
	}
	if len(retry) == 0 {
		return results
	}

	log.Info("Session %s rejected by %s. Re-authenticating.", sid, c.conn.Endpoint())
	c.invalidateSessionID(sid)
	fresh, err := c.EnsureSession(ctx)
	if err != nil {
		for _, i := range retry {
			results[i].Err = err
		}
		return results
	}
	c.dispatch(ctx, fresh, calls, retry, results)
	for _, i := range retry {
		if protocol.IsInvalidSession(results[i].Err) {
			results[i].Err = &protocol.AuthError{Err: results[i].Err}
		}
	}
	return results
}

// dispatch issues the calls selected by indices, splitting them into wire requests of at most
// MaxBatchCalls, and stores outcomes into results.
func (c *Client) dispatch(ctx context.Context, sid string, calls []Call, indices []int, results []Result) {
	for start := 0; start < len(indices); start += c.config.MaxBatchCalls {
		end := start + c.config.MaxBatchCalls
		if end > len(indices) {
			end = len(indices)
		}
		c.exchange(ctx, sid, calls, indices[start:end], results)
	}
}

// exchange performs one wire request carrying the calls selected by indices and demultiplexes the
// replies by request ID.
func (c *Client) exchange(ctx context.Context, sid string, calls []Call, indices []int, results []Result) {
	reqs := make([]request, len(indices))
	byID := make(map[uint64]int, len(indices))
	for j, i := range indices {
		id := c.nextID()
		reqs[j] = newRequest(id, sid, calls[i])
		byID[id] = i
	}

	payload, err := encodeRequests(reqs)
	if err != nil {
		for _, i := range indices {
			results[i] = Result{Err: err}
		}
		return
	}

	body, err := c.conn.Send(ctx, payload)
	if err != nil {
		for _, i := range indices {
			results[i] = Result{Err: err}
		}
		return
	}

	rsps, err := decodeResponses(body)
	if err != nil {
		for _, i := range indices {
			results[i] = Result{Err: err}
		}
		return
	}

	// A malformed batch is answered with a single unmatched error envelope that applies to every
	// call in the request.
	if len(rsps) == 1 && rsps[0].Error != nil {
		if _, ok := byID[rsps[0].ID]; !ok {
			rpcErr := &protocol.RPCError{Code: rsps[0].Error.Code, Message: rsps[0].Error.Message}
			for _, i := range indices {
				results[i] = Result{Err: rpcErr}
			}
			return
		}
	}

	answered := make(map[int]bool, len(indices))
	for _, rsp := range rsps {
		i, ok := byID[rsp.ID]
		if !ok {
			log.Warning("Discarding response with unexpected id %d from %s", rsp.ID, c.conn.Endpoint())
			continue
		}
		answered[i] = true
		if rsp.Error != nil {
			results[i] = Result{Err: &protocol.RPCError{Code: rsp.Error.Code, Message: rsp.Error.Message}}
			continue
		}
		raw, err := decodeResult(calls[i].Object, calls[i].Method, rsp.Result)
		results[i] = Result{Raw: raw, Err: err}
	}
	for _, i := range indices {
		if !answered[i] {
			results[i] = Result{Err: protocol.ErrBadResponse}
		}
	}
}

// List enumerates objects on the bus whose names match pattern, for example "hostapd.*". The
// reply maps object names to their method signatures. Like CallBatch, List re-authenticates once
// when the device rejects the session.
func (c *Client) List(ctx context.Context, pattern string) (map[string]json.RawMessage, error) {
	sid, err := c.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := c.listOnce(ctx, sid, pattern)
	if protocol.IsInvalidSession(err) {
		log.Info("Session %s rejected by %s. Re-authenticating.", sid, c.conn.Endpoint())
		c.invalidateSessionID(sid)
		fresh, ensureErr := c.EnsureSession(ctx)
		if ensureErr != nil {
			return nil, ensureErr
		}
		objects, err = c.listOnce(ctx, fresh, pattern)
		if protocol.IsInvalidSession(err) {
			return nil, &protocol.AuthError{Err: err}
		}
	}
	return objects, err
}

func (c *Client) listOnce(ctx context.Context, sid, pattern string) (map[string]json.RawMessage, error) {
	payload, err := encodeRequests([]request{newListRequest(c.nextID(), sid, pattern)})
	if err != nil {
		return nil, err
	}
	body, err := c.conn.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	rsps, err := decodeResponses(body)
	if err != nil {
		return nil, err
	}
	if len(rsps) == 0 {
		return nil, protocol.ErrBadResponse
	}
	rsp := rsps[0]
	if rsp.Error != nil {
		return nil, &protocol.RPCError{Code: rsp.Error.Code, Message: rsp.Error.Message}
	}
	// A list result is a bare object, not a [status, payload] array.
	var objects map[string]json.RawMessage
	if err := json.Unmarshal(rsp.Result, &objects); err != nil {
		return nil, protocol.ErrBadResponse
	}
	return objects, nil
}

// exchangeSingle issues one call under sid without session recovery. Login and logout use it.
func (c *Client) exchangeSingle(ctx context.Context, sid string, call Call) (json.RawMessage, error) {
	payload, err := encodeRequests([]request{newRequest(c.nextID(), sid, call)})
	if err != nil {
		return nil, err
	}
	body, err := c.conn.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	rsps, err := decodeResponses(body)
	if err != nil {
		return nil, err
	}
	if len(rsps) == 0 {
		return nil, protocol.ErrBadResponse
	}
	rsp := rsps[0]
	if rsp.Error != nil {
		return nil, &protocol.RPCError{Code: rsp.Error.Code, Message: rsp.Error.Message}
	}
	return decodeResult(call.Object, call.Method, rsp.Result)
}
