package protocol

// JSON-RPC 2.0 standard error codes.
const (
	ErrCodeParseError     = -32700 // Invalid JSON was received
	ErrCodeInvalidRequest = -32600 // The JSON sent is not a valid Request object
	ErrCodeMethodNotFound = -32601 // The method does not exist / is not available
	ErrCodeInvalidParams  = -32602 // Invalid method parameter(s)
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
)

// NewErrorEnvelope builds the single-line error envelope emitted for failures
// the bridge detects locally.
func NewErrorEnvelope(code int, message string) string {
	env := ErrorEnvelope{
		Jsonrpc: JSONRPCVersion,
		Error:   &RPCError{Code: code, Message: message},
	}
	// No Data is attached, so encoding cannot fail.
	line, _ := env.Marshal()
	return line
}

// NewInternalErrorEnvelope builds an envelope with ErrCodeInternalError.
func NewInternalErrorEnvelope(message string) string {
	return NewErrorEnvelope(ErrCodeInternalError, message)
}
