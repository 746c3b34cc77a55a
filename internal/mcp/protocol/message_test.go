package protocol

import (
	"testing"
)

func TestErrorEnvelope_Marshal(t *testing.T) {
	env := ErrorEnvelope{
		Jsonrpc: JSONRPCVersion,
		Error:   &RPCError{Code: ErrCodeInternalError, Message: "a <b> & c"},
	}

	line, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"jsonrpc":"2.0","error":{"code":-32603,"message":"a <b> & c"}}`
	if line != want {
		t.Errorf("Marshal() = %s, want %s", line, want)
	}
}

func TestErrorEnvelope_MarshalWithData(t *testing.T) {
	env := ErrorEnvelope{
		Jsonrpc: JSONRPCVersion,
		Error:   &RPCError{Code: ErrCodeInvalidParams, Message: "bad", Data: map[string]int{"field": 1}},
	}

	line, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"jsonrpc":"2.0","error":{"code":-32602,"message":"bad","data":{"field":1}}}`
	if line != want {
		t.Errorf("Marshal() = %s, want %s", line, want)
	}
}

func TestErrorEnvelope_MarshalUnsupportedData(t *testing.T) {
	env := ErrorEnvelope{
		Jsonrpc: JSONRPCVersion,
		Error:   &RPCError{Code: ErrCodeInternalError, Message: "x", Data: make(chan int)},
	}

	if _, err := env.Marshal(); err == nil {
		t.Error("expected error for unsupported data")
	}
}
