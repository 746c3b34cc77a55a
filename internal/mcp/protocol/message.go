// Package protocol holds the few JSON-RPC 2.0 shapes the bridge produces itself.
// Messages relayed between stdio and the remote endpoint are opaque text and are
// never decoded here.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON-RPC version constant.
const JSONRPCVersion = "2.0"

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ErrorEnvelope is a locally generated JSON-RPC error without an id. The bridge
// cannot correlate it with a request because message bodies are opaque.
type ErrorEnvelope struct {
	Jsonrpc string    `json:"jsonrpc"`
	Error   *RPCError `json:"error"`
}

// Marshal renders the envelope as a single line of JSON.
func (e ErrorEnvelope) Marshal() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
