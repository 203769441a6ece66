package errors

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports that a named host resource (component, log file,
// config node) does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "resource"
	}
	return fmt.Sprintf("%s %q not found", kind, e.Name)
}

// NotFound builds a NotFoundError.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// InvalidArgumentError reports a malformed request argument list or value.
type InvalidArgumentError struct {
	Call    string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	if e.Call == "" {
		return "invalid argument: " + e.Message
	}
	return fmt.Sprintf("invalid argument for %s: %s", e.Call, e.Message)
}

// InvalidArgument builds an InvalidArgumentError.
func InvalidArgument(call, format string, args ...any) error {
	return &InvalidArgumentError{Call: call, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failure raised by an external collaborator (host API,
// messaging bus).
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Upstream wraps err as an UpstreamError; nil stays nil.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidArgument reports whether err carries an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// ClientMessage renders err as the text placed in a RESPONSE payload. Upstream
// failures surface the collaborator's own message so the browser shows what the
// host reported.
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.Err != nil {
		return strings.TrimSpace(upstream.Err.Error())
	}
	return strings.TrimSpace(err.Error())
}
