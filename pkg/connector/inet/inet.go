// Package inet implements the connector.Connector interface over HTTP.
package inet

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/connector"
	"github.com/wrtkit/router-command/pkg/protocol"
)

// DefaultTimeout bounds a single HTTP exchange when the caller's context carries no deadline.
var DefaultTimeout = 30 * time.Second

func ReadWithContext(ctx context.Context, r io.Reader, p []byte) ([]byte, error) {
	bytesRead := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := r.Read(p[bytesRead:])
		bytesRead += n
		if err == io.EOF {
			return p[:bytesRead], nil
		}
		if err != nil {
			return p[:bytesRead], err
		}
		if bytesRead == len(p) {
			return p[:bytesRead], nil
		}
	}
}

type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// EndpointURL normalizes a host name or URL into a full ubus endpoint URL. A bare host becomes
// http://<host>/ubus; an explicit scheme and path are preserved.
func EndpointURL(host string) string {
	url := host
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/ubus") {
		url = strings.TrimSuffix(url, "/") + "/ubus"
	}
	return url
}

// Connection implements the connector.Connector interface by POSTing JSON-RPC payloads to a
// device's uhttpd endpoint.
type Connection struct {
	UserAgent string
	client    *http.Client
	endpoint  string
}

// NewConnection creates a Connection to the device at host. host may be a plain name or address
// ("192.168.1.1"), or a URL when the endpoint uses TLS or a non-standard path.
func NewConnection(host string) *Connection {
	return NewConnectionWithClient(host, &http.Client{Timeout: DefaultTimeout})
}

// NewConnectionWithClient creates a Connection that uses the provided HTTP client. Callers use
// this to adjust TLS settings or timeouts.
func NewConnectionWithClient(host string, client *http.Client) *Connection {
	return &Connection{
		UserAgent: "router-command",
		client:    client,
		endpoint:  EndpointURL(host),
	}
}

func (c *Connection) Endpoint() string {
	return c.endpoint
}

func (c *Connection) RetryInterval() time.Duration {
	return time.Second
}

func (c *Connection) Close() {
	c.client.CloseIdleConnections()
}

// Send posts payload to the device and returns the response body. Errors implement the
// protocol.Error interface; a request that may have reached the device before failing reports
// MayHaveSucceeded.
func (c *Connection) Send(ctx context.Context, payload []byte) ([]byte, error) {
	log.Debug("Sending request to %s: %s", c.endpoint, payload)
	request, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &protocol.NetworkError{Err: err}
	}

	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	result, err := c.client.Do(request)
	if err != nil {
		// The request may have been written before the connection failed.
		return nil, &protocol.NetworkError{Err: err, Sent: true}
	}
	defer result.Body.Close()

	body := make([]byte, connector.MaxResponseLength+1)
	body, err = ReadWithContext(ctx, result.Body, body)
	if err != nil {
		return nil, &protocol.NetworkError{Err: err, Sent: true}
	}

	if len(body) == connector.MaxResponseLength+1 {
		return nil, protocol.NewError("response exceeds maximum length", true, true)
	}

	log.Debug("Server returned %d: %s: %s", result.StatusCode, http.StatusText(result.StatusCode), body)
	if result.StatusCode != http.StatusOK {
		return nil, &HttpError{Code: result.StatusCode, Message: string(body)}
	}
	return body, nil
}
