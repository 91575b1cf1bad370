// Package connector abstracts the transport used to exchange JSON-RPC payloads with a device.
package connector

import (
	"context"
	"time"
)

// MaxResponseLength caps the maximum byte-length of responses that connectors must support.
// Batched station lists and lease-file reads are the largest payloads in practice.
const MaxResponseLength = 1000000

// A Connector delivers JSON-RPC payloads to a device endpoint and returns raw response bodies.
type Connector interface {
	// Send posts a JSON payload and returns the response body.
	//
	// Depending on the error, the device may have received and even acted on the payload. If the
	// returned error implements the protocol.Error interface, then the client may be able to
	// determine if this is the case by using the appropriate methods.
	//
	// Implementations must be thread safe.
	Send(ctx context.Context, payload []byte) ([]byte, error)

	// Endpoint returns the URL of the connected device.
	Endpoint() string

	// RetryInterval returns the recommended wait time between transmission attempts.
	RetryInterval() time.Duration

	// Close terminates the connection to the device.
	//
	// Repeated calls to Close() must be idempotent, but the behavior of the interface is otherwise
	// undefined after calling this method.
	Close()
}
