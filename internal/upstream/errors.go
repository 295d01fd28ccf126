package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind classifies a failure for callers and for the wire.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindBadRequest  Kind = "bad_request"
	KindUnreachable Kind = "unreachable"
	KindTimeout     Kind = "timeout"
	KindUpstream    Kind = "upstream_error"
	KindProtocol    Kind = "protocol_error"
)

// HTTPStatus is the status a handler answers with for a failure of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnreachable, KindUpstream, KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failed exchange with one backend.
type Error struct {
	Kind       Kind
	Addr       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindUnreachable {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an *Error anywhere in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func unreachable(addr string, err error) *Error {
	return &Error{Kind: KindUnreachable, Addr: addr, Message: "Cannot reach " + addr, Err: unwrapURLError(err)}
}

func timedOut(addr string, timeout time.Duration, err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Addr:    addr,
		Message: fmt.Sprintf("Request to %s timed out (%s)", addr, timeout),
		Err:     err,
	}
}

func protocolError(addr, detail string, err error) *Error {
	return &Error{Kind: KindProtocol, Addr: addr, Message: "Failed to parse gateway response: " + detail, Err: err}
}

// transportError maps an error from sending a request or reading its body.
// A cancellation that did not come from a deadline is returned untouched:
// the caller went away and nothing should be reported upstream of it.
func transportError(addr string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timedOut(addr, timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timedOut(addr, timeout, err)
	}
	return unreachable(addr, err)
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// errorMessage pulls a human readable message out of an upstream "error"
// value, which backends send either as an object or as a bare string.
func errorMessage(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ErrorIn returns the message of a top level "error" value in body, if the
// body carries one. Buffered responses and stream chunks both go through it.
func ErrorIn(body []byte) (string, bool) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 || string(envelope.Error) == "null" {
		return "", false
	}
	return errorMessage(envelope.Error), true
}

// statusError builds the error for a non-2xx upstream answer.
func statusError(addr string, status int, body []byte) *Error {
	msg := fmt.Sprintf("Gateway at %s returned HTTP %d", addr, status)
	if m, ok := ErrorIn(body); ok {
		msg = m
	}
	return &Error{Kind: KindUpstream, Addr: addr, Message: msg, StatusCode: status}
}
