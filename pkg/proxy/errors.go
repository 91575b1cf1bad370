package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/connector/inet"
	"github.com/wrtkit/router-command/pkg/protocol"
)

// Response contains the server's reply to a client request. On success Response holds the
// payload; on failure Error holds a stable machine-readable label and ErrDetails the underlying
// error text.
type Response struct {
	Response   interface{} `json:"response"`
	Error      string      `json:"error,omitempty"`
	ErrDetails string      `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, reply *Response) {
	body, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		body = []byte(`{"response":null,"error":"internal_error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body = append(body, '\n')
	w.Write(body)
}

func writeJSONResult(w http.ResponseWriter, payload interface{}) {
	writeJSON(w, http.StatusOK, &Response{Response: payload})
}

func writeJSONError(w http.ResponseWriter, code int, label string, err error) {
	reply := Response{Error: label}
	if reply.Error == "" {
		reply.Error = http.StatusText(code)
	}
	if err != nil {
		reply.ErrDetails = err.Error()
	}
	log.Error("Returning %d %s: %s", code, reply.Error, reply.ErrDetails)
	writeJSON(w, code, &reply)
}

// errorStatus maps an upstream failure onto an HTTP status code and error label. Staleness and
// per-waiter timeouts are matched before the transport errors they wrap.
func errorStatus(err error) (int, string) {
	var (
		unknownErr *protocol.UnknownKeyError
		staleErr   *protocol.StaleDataError
		timeoutErr *protocol.TimeoutError
		authErr    *protocol.AuthError
		callErr    *protocol.CallError
		netErr     *protocol.NetworkError
		httpErr    *inet.HttpError
		rpcErr     *protocol.RPCError
	)
	switch {
	case errors.As(err, &unknownErr):
		return http.StatusNotFound, "unknown_key"
	case errors.As(err, &staleErr):
		return http.StatusServiceUnavailable, "stale_data"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &authErr):
		return http.StatusBadGateway, "device_authentication"
	case errors.As(err, &callErr):
		switch callErr.Status {
		case protocol.StatusPermissionDenied:
			return http.StatusForbidden, "permission_denied"
		case protocol.StatusNotFound, protocol.StatusMethodNotFound, protocol.StatusInvalidCommand:
			return http.StatusNotFound, "not_found"
		case protocol.StatusInvalidArgument:
			return http.StatusBadRequest, "invalid_argument"
		case protocol.StatusTimeout:
			return http.StatusGatewayTimeout, "timeout"
		default:
			return http.StatusBadGateway, "device_error"
		}
	case errors.As(err, &netErr), errors.As(err, &httpErr):
		return http.StatusBadGateway, "device_unreachable"
	case errors.As(err, &rpcErr):
		return http.StatusBadGateway, "device_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
