package upstream

import (
	"context"
	"errors"
	"net"
)

// Error kinds. Match with errors.Is.
var (
	ErrUnreachable = errors.New("upstream unreachable")
	ErrTimeout     = errors.New("upstream timeout")
	ErrStatus      = errors.New("upstream status error")
	ErrProtocol    = errors.New("upstream protocol error")
)

// Error is a fatal failure talking to an agent service. Detail is safe to
// show to end users: it never carries the endpoint URL or the access token.
type Error struct {
	Kind       error
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Kind }

// KindName returns a short label for err, used in logs and metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

// Message returns the user-facing description of err.
func Message(err error) string {
	var ue *Error
	if errors.As(err, &ue) && ue.Detail != "" {
		return ue.Detail
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	return "agent service error"
}

// invalidatesSession reports whether a fatal err should drop the cached
// upstream session. Client-side statuses and caller cancellation leave it.
func invalidatesSession(err error) bool {
	var ue *Error
	if !errors.As(err, &ue) {
		return false
	}
	if errors.Is(ue.Kind, ErrStatus) {
		return ue.StatusCode >= 500
	}
	return true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
