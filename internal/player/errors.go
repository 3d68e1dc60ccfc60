// Package player implements the media pipeline controller: it bridges a
// push-based demuxer to a pull-based player backend, owning per-stream
// buffering, backend state transitions, seek coordination and ready-state
// computation on a single pipeline goroutine.
package player

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors. Backend-specific codes are mapped to
// a kind exactly once, at the backend adapter boundary.
type ErrorKind int

const (
	// KindTransient is a temporary resource shortage (backend buffer full).
	// The packet pump retries it; callers never see it.
	KindTransient ErrorKind = iota + 1
	// KindBadArgument is caller misuse, rejected synchronously.
	KindBadArgument
	// KindBackendFailure is an unrecoverable backend error.
	KindBackendFailure
	// KindNotSupported means the active backend lacks the feature.
	KindNotSupported
	// KindAborted means the operation was superseded by a newer seek,
	// flush or teardown. Never reported to the host.
	KindAborted
	// KindTransitionTimeout means the backend never confirmed a requested state.
	KindTransitionTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBadArgument:
		return "bad_argument"
	case KindBackendFailure:
		return "backend_failure"
	case KindNotSupported:
		return "not_supported"
	case KindAborted:
		return "aborted"
	case KindTransitionTimeout:
		return "transition_timeout"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	// Op is the operation that failed (e.g. "push_packet", "prepare").
	Op string
	// Code is the backend's native error code, if any.
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* sentinels below work
// with errors.Is regardless of Op or Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Code == 0 && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrTransient         = &Error{Kind: KindTransient}
	ErrBadArgument       = &Error{Kind: KindBadArgument}
	ErrBackendFailure    = &Error{Kind: KindBackendFailure}
	ErrNotSupported      = &Error{Kind: KindNotSupported}
	ErrAborted           = &Error{Kind: KindAborted}
	ErrTransitionTimeout = &Error{Kind: KindTransitionTimeout}
)

// Errors returned by the controller itself.
var (
	// ErrNoSpace is returned by StreamChannel.PushFrame when the queue budget is exhausted.
	ErrNoSpace = NewError(KindTransient, "push_frame", errors.New("channel queue full"))
	// ErrBufferSpace is the translated form of a backend "buffer full" push result.
	ErrBufferSpace = NewError(KindTransient, "push_packet", errors.New("backend buffer full"))
	// ErrClosed is returned for operations on a closed controller.
	ErrClosed = errors.New("pipeline closed")
	// ErrNotStarted is returned for operations before Start.
	ErrNotStarted = errors.New("pipeline not started")
)

// NewError creates a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// BadArgument creates a KindBadArgument error with a formatted message.
func BadArgument(op, format string, args ...any) *Error {
	return &Error{Kind: KindBadArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not a classified error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsTransient reports whether err is a retryable resource shortage.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
