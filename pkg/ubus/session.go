package ubus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/protocol"
)

// ObjectSession is the built-in ubus session management object.
const ObjectSession = "session"

// session tracks one authentication epoch with the device. All fields other than readySignal are
// written exactly once, before readySignal is closed, and may only be read after it is closed.
type session struct {
	readySignal chan struct{}
	id          string
	expiresAt   time.Time
	err         error
}

func newSession() *session {
	return &session{readySignal: make(chan struct{})}
}

func (s *session) ready() bool {
	select {
	case <-s.readySignal:
		return true
	default:
		return false
	}
}

// EnsureSession returns a token expected to remain valid for at least the configured expiry
// margin, logging in first when no such token exists. Concurrent callers share a single login
// attempt and observe the same outcome.
func (c *Client) EnsureSession(ctx context.Context) (string, error) {
	for {
		c.sessionLock.Lock()
		s := c.session
		created := false
		if s == nil {
			s = newSession()
			c.session = s
			created = true
		}
		c.sessionLock.Unlock()

		if created {
			c.login(ctx, s)
		}

		select {
		case <-s.readySignal:
		case <-ctx.Done():
			return "", ctx.Err()
		}

		if s.err == nil && time.Until(s.expiresAt) > c.config.ExpiryMargin {
			return s.id, nil
		}

		// A failed or expiring epoch is cleared so the next iteration starts fresh.
		c.sessionLock.Lock()
		if c.session == s {
			c.session = nil
		}
		c.sessionLock.Unlock()

		if s.err != nil {
			if errors.Is(s.err, context.Canceled) || errors.Is(s.err, context.DeadlineExceeded) {
				// The creator's context died mid-login. That is not this caller's failure.
				if ctx.Err() == nil {
					continue
				}
				return "", ctx.Err()
			}
			return "", s.err
		}
	}
}

// login performs the wire login and populates s. Must be called without sessionLock held.
func (c *Client) login(ctx context.Context, s *session) {
	defer close(s.readySignal)
	call := Call{
		Object: ObjectSession,
		Method: "login",
		Params: map[string]interface{}{
			"username": c.config.Username,
			"password": c.config.Password,
			"timeout":  int(c.config.SessionTimeout / time.Second),
		},
	}
	attempts := c.config.LoginRetries + 1
	for {
		raw, err := c.exchangeSingle(ctx, NullSessionID, call)
		if err == nil {
			var grant struct {
				SessionID string  `json:"ubus_rpc_session"`
				Expires   float64 `json:"expires"`
			}
			if jsonErr := json.Unmarshal(raw, &grant); jsonErr != nil || grant.SessionID == "" {
				s.err = protocol.ErrBadResponse
				return
			}
			lifetime := time.Duration(grant.Expires) * time.Second
			if lifetime <= 0 {
				lifetime = c.config.SessionTimeout
			}
			s.id = grant.SessionID
			s.expiresAt = time.Now().Add(lifetime)
			log.Info("Established ubus session with %s", c.conn.Endpoint())
			return
		}
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return
		}
		attempts--
		if attempts > 0 && protocol.ShouldRetry(err) {
			log.Warning("Login attempt failed: %s. Retrying.", err)
			select {
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case <-time.After(c.conn.RetryInterval()):
			}
			continue
		}
		s.err = &protocol.AuthError{Err: err}
		return
	}
}

// SessionID returns the current session token without triggering a login. It returns the empty
// string when no usable token exists.
func (c *Client) SessionID() string {
	c.sessionLock.Lock()
	s := c.session
	c.sessionLock.Unlock()
	if s == nil || !s.ready() || s.err != nil {
		return ""
	}
	if time.Until(s.expiresAt) <= c.config.ExpiryMargin {
		return ""
	}
	return s.id
}

// SessionExpiresAt reports the current token's estimated expiry. The zero time means no usable
// token exists.
func (c *Client) SessionExpiresAt() time.Time {
	c.sessionLock.Lock()
	s := c.session
	c.sessionLock.Unlock()
	if s == nil || !s.ready() || s.err != nil {
		return time.Time{}
	}
	return s.expiresAt
}

// ResumeSession seeds the client with a previously issued token, typically restored from a session
// cache. A token the device no longer accepts heals through the usual invalid-session retry path.
func (c *Client) ResumeSession(sid string, expiresAt time.Time) {
	if sid == "" || sid == NullSessionID {
		return
	}
	s := newSession()
	s.id = sid
	s.expiresAt = expiresAt
	close(s.readySignal)
	c.sessionLock.Lock()
	c.session = s
	c.sessionLock.Unlock()
}

// InvalidateSession discards the cached token without contacting the device. The next call
// authenticates again.
func (c *Client) InvalidateSession() {
	c.sessionLock.Lock()
	c.session = nil
	c.sessionLock.Unlock()
}

// invalidateSessionID discards the cached token only if it is still sid. The transport uses this
// after an invalid-session reply so that a token already refreshed by another goroutine survives.
func (c *Client) invalidateSessionID(sid string) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()
	if c.session != nil && c.session.ready() && c.session.err == nil && c.session.id == sid {
		c.session = nil
	}
}

// Logout destroys the session on the device and forgets the token. Calling Logout without a live
// session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	c.sessionLock.Lock()
	s := c.session
	c.session = nil
	c.sessionLock.Unlock()
	if s == nil || !s.ready() || s.err != nil || s.id == "" {
		return nil
	}
	if !time.Now().Before(s.expiresAt) {
		return nil
	}
	_, err := c.exchangeSingle(ctx, s.id, Call{Object: ObjectSession, Method: "destroy"})
	if protocol.IsInvalidSession(err) {
		// Already gone on the device.
		return nil
	}
	return err
}
