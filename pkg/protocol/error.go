package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if a client times out while waiting for a response, then the client
	// cannot tell if the command was received. (Not all timeouts mean the command MayHaveSucceeded,
	// so the common Timeout() error interface is not appropriate here).
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition. For
	// example, a device that is mid-reboot drops connections until its RPC daemon is back up.
	Temporary() bool
}

var (
	// ErrBadResponse indicates the device sent a reply the client could not parse.
	ErrBadResponse = errors.New("invalid response")
	// ErrClosed indicates an operation was attempted on a client after Close.
	ErrClosed = NewError("client closed", false, false)
	// ErrBusy indicates a resource on the device is temporarily unavailable.
	ErrBusy = NewError("device busy", false, true)
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// A NetworkError indicates the device endpoint could not be reached or dropped the connection
// before sending a complete response.
type NetworkError struct {
	Err error
	// Sent is true when the request may have reached the device before the failure, in which case
	// a command it carried might have executed.
	Sent bool
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) MayHaveSucceeded() bool {
	return e.Sent
}

func (e *NetworkError) Temporary() bool {
	return true
}

// An AuthError indicates the device rejected the client's credentials, or rejected a session that
// was established moments earlier. Retrying without operator intervention fails the same way.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) MayHaveSucceeded() bool {
	return false
}

func (e *AuthError) Temporary() bool {
	return false
}

// An UnknownKeyError indicates a request named a data key with no registered capability.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("no capability registered for data key %q", e.Key)
}

func (e *UnknownKeyError) MayHaveSucceeded() bool {
	return false
}

func (e *UnknownKeyError) Temporary() bool {
	return false
}

// A TimeoutError indicates a caller's wait bound expired before a shared fetch produced a result.
// The fetch itself keeps running so that later callers can benefit from it.
type TimeoutError struct {
	Key string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %q: %v", e.Key, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) MayHaveSucceeded() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return true
}

// A StaleDataError indicates a cached value exists but has aged past its staleness ceiling while
// refresh attempts kept failing. LastErr is the most recent refresh failure.
type StaleDataError struct {
	Key     string
	Age     time.Duration
	LastErr error
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("data for %q is %v old and refresh failed: %v", e.Key, e.Age.Round(time.Second), e.LastErr)
}

func (e *StaleDataError) Unwrap() error {
	return e.LastErr
}

func (e *StaleDataError) MayHaveSucceeded() bool {
	return false
}

// Temporary returns true because a later refresh can clear the condition.
func (e *StaleDataError) Temporary() bool {
	return true
}

// MayHaveSucceeded returns true if err indicates a command may have been executed even though the
// client did not receive a confirmation from the device.
func MayHaveSucceeded(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err indicates a command failed due to possibly transient conditions
// that do not require user action to resolve.
func Temporary(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the command that triggered an error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(Error); ok {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}
