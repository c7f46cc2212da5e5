package rpc

import (
	"context"
	"errors"
	"fmt"
)

// Error codes carried by *Error.
const (
	CodeTimeout   = "TIMEOUT"
	CodeCanceled  = "CANCELED"
	CodeTransport = "TRANSPORT"
	CodeDecode    = "DECODE"
	CodeNullReply = "NULL_REPLY"
)

var (
	// ErrNullReply is returned by decoders when a reply is absent where a value is required.
	ErrNullReply = errors.New("rpc: null reply")
	// ErrDuplicateCall is returned when a correlation identifier is already pending.
	ErrDuplicateCall = errors.New("rpc: correlation id already pending")
	// ErrClientClosed is returned by Call after Close.
	ErrClientClosed = errors.New("rpc: client closed")
)

// Error is the failure of a single call.
type Error struct {
	Code          string
	Channel       string
	CorrelationID string
	Message       string
	Err           error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rpc %s on %s (correlationId=%s): %s", e.Code, e.Channel, e.CorrelationID, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed. Decode and null-reply
// failures point at a contract mismatch and are not retryable.
func (e *Error) Retryable() bool {
	return e.Code == CodeTimeout || e.Code == CodeTransport
}

// CodeOf returns the rpc error code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return ""
}

// IsTimeout reports whether err is a call timeout.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }

// IsCanceled reports whether err is a call abandoned by its caller.
func IsCanceled(err error) bool { return CodeOf(err) == CodeCanceled }

// IsTransport reports whether err is a broker failure.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }

// IsDecode reports whether err is a reply that did not match the expected shape.
func IsDecode(err error) bool { return CodeOf(err) == CodeDecode }

// IsNullReply reports whether err is a reply that was absent where a value is mandatory.
func IsNullReply(err error) bool { return CodeOf(err) == CodeNullReply }

func newTimeoutError(channel, id string, cause error) *Error {
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return &Error{Code: CodeTimeout, Channel: channel, CorrelationID: id, Message: "no reply before deadline", Err: cause}
}

func newCanceledError(channel, id string, cause error) *Error {
	return &Error{Code: CodeCanceled, Channel: channel, CorrelationID: id, Message: "call abandoned by caller", Err: cause}
}

func newTransportError(channel, id string, err error) *Error {
	return &Error{Code: CodeTransport, Channel: channel, CorrelationID: id, Message: "publish failed", Err: err}
}

func newNullReplyError(channel, id string) *Error {
	return &Error{Code: CodeNullReply, Channel: channel, CorrelationID: id, Message: "reply body is null", Err: ErrNullReply}
}

// hintLen bounds the body prefix quoted in decode errors.
const hintLen = 64

func newDecodeError(channel, id string, body []byte, err error) *Error {
	hint := body
	if len(hint) > hintLen {
		hint = hint[:hintLen]
	}
	return &Error{
		Code:          CodeDecode,
		Channel:       channel,
		CorrelationID: id,
		Message:       fmt.Sprintf("cannot decode %d-byte reply starting %q", len(body), hint),
		Err:           err,
	}
}
