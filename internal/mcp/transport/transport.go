// Package transport moves JSON-RPC lines between the local stdio pair and the
// remote MCP endpoint.
package transport

import (
	"context"

	"github.com/google/uuid"
)

// Message is one non-blank line read from the input stream. It is immutable
// once created; retries reuse the same Message.
type Message struct {
	// ID correlates log lines about this message. It is never sent anywhere.
	ID string
	// Body is the line with its line ending removed.
	Body string
}

// NewMessage wraps body with a fresh correlation ID.
func NewMessage(body string) Message {
	return Message{ID: uuid.NewString(), Body: body}
}

// Exchanger performs one request/response exchange with the remote endpoint.
//
// On success it returns the ordered response payloads, possibly none. On
// failure the error is classified with IsRetryable / IsFatal.
type Exchanger interface {
	Exchange(ctx context.Context, body string) ([]string, error)
}
