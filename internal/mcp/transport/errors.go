package transport

import (
	"context"
	"errors"
	"net"
)

// ErrInvalidUTF8 is returned when the response body is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 in response")

// ErrTooManyRedirects is returned when the endpoint redirects more than
// maxRedirects times for one message.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrorKind classifies a failed exchange.
type ErrorKind int

const (
	// KindRetryable failures may succeed if the same message is sent again:
	// connection failures, timeouts, and request construction failures.
	KindRetryable ErrorKind = iota
	// KindFatal failures cannot be fixed by retrying: undecodable response
	// bodies, redirect loops and local I/O failures.
	KindFatal
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func retryable(op string, err error) error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

func fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindRetryable
	}
	return false
}

// IsFatal reports whether err is a transport failure that retrying cannot fix.
// Unclassified errors count as fatal.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// isTimeout reports whether err came from a deadline, either the client
// timeout or a net.Conn deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
