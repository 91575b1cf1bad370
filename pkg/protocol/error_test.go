package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetriableStatus(t *testing.T) {
	var shouldRetry bool
	for status := range statusNames {
		switch status {
		case StatusOK:
			continue
		case StatusInvalidCommand:
			shouldRetry = false
		case StatusInvalidArgument:
			shouldRetry = false
		case StatusMethodNotFound:
			shouldRetry = false
		case StatusNotFound:
			shouldRetry = false
		case StatusNoData:
			shouldRetry = false
		case StatusPermissionDenied:
			shouldRetry = false
		case StatusTimeout:
			// Temporary, but the call may have run to completion on the device.
			shouldRetry = false
		case StatusNotSupported:
			shouldRetry = false
		case StatusUnknownError:
			shouldRetry = false
		case StatusConnectionFailed:
			shouldRetry = true
		default:
			t.Fatalf("No expected retry behavior specified for %s", status)
		}
		err := StatusError("system", "info", status)
		if ShouldRetry(err) != shouldRetry {
			t.Errorf("Unexpected retry behavior for status %s", status)
		}
	}
}

func TestStatusErrorOK(t *testing.T) {
	if err := StatusError("system", "board", StatusOK); err != nil {
		t.Errorf("Expected nil error for StatusOK, got %v", err)
	}
}

func TestRPCErrorCategories(t *testing.T) {
	for _, code := range []int{
		RPCParseError, RPCInvalidRequest, RPCMethodNotFound, RPCInvalidParams,
		RPCInternalError, RPCObjectNotFound, RPCSessionNotFound, RPCAccessDenied,
		RPCRequestTimedOut,
	} {
		err := &RPCError{Code: code, Message: "test"}
		wantTemporary := code == RPCRequestTimedOut || code == RPCInternalError
		if err.Temporary() != wantTemporary {
			t.Errorf("Expected Temporary() = %v for code %d", wantTemporary, code)
		}
		wantSucceeded := code == RPCRequestTimedOut
		if err.MayHaveSucceeded() != wantSucceeded {
			t.Errorf("Expected MayHaveSucceeded() = %v for code %d", wantSucceeded, code)
		}
		wantInvalidSession := code == RPCSessionNotFound || code == RPCAccessDenied
		if IsInvalidSession(err) != wantInvalidSession {
			t.Errorf("Expected IsInvalidSession() = %v for code %d", wantInvalidSession, code)
		}
	}
}

func TestIsInvalidSessionWrapped(t *testing.T) {
	err := fmt.Errorf("call failed: %w", &RPCError{Code: RPCSessionNotFound, Message: "Session not found"})
	if !IsInvalidSession(err) {
		t.Error("Expected wrapped RPCError to be classified as invalid session")
	}
	if IsInvalidSession(errors.New("session not found")) {
		t.Error("Expected plain error not to be classified as invalid session")
	}
	if IsInvalidSession(nil) {
		t.Error("Expected nil not to be classified as invalid session")
	}
}

func TestNetworkErrorCategories(t *testing.T) {
	err := &NetworkError{Err: errors.New("connection refused")}
	if !ShouldRetry(err) {
		t.Error("Expected unsent network error to be retriable")
	}
	sent := &NetworkError{Err: context.DeadlineExceeded, Sent: true}
	if ShouldRetry(sent) {
		t.Error("Expected in-flight network error not to be retriable")
	}
	if !MayHaveSucceeded(sent) {
		t.Error("Expected in-flight network error to report possible success")
	}
}

func TestAuthErrorCategories(t *testing.T) {
	err := &AuthError{Err: errors.New("access denied")}
	if ShouldRetry(err) {
		t.Error("Expected auth error not to be retriable")
	}
	if Temporary(err) {
		t.Error("Expected auth error not to be temporary")
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Key: "dhcp_ipv4leases", Err: context.DeadlineExceeded}
	if ShouldRetry(err) {
		t.Error("Expected timeout error not to be retriable: the shared fetch is still running")
	}
	if !MayHaveSucceeded(err) {
		t.Error("Expected timeout error to report possible success")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Expected TimeoutError to unwrap to the context error")
	}
}

func TestStaleDataError(t *testing.T) {
	cause := &NetworkError{Err: errors.New("no route to host")}
	err := &StaleDataError{Key: "system_info", Age: 462 * time.Second, LastErr: cause}
	if !Temporary(err) {
		t.Error("Expected stale data error to be temporary")
	}
	if MayHaveSucceeded(err) {
		t.Error("Expected stale data error not to report possible success")
	}
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Error("Expected StaleDataError to unwrap to its refresh failure")
	}
}
