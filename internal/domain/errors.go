package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by every layer. Concrete errors wrap one of these with %w.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrUnreachable      = errors.New("unreachable")
	ErrGatewayRejected  = errors.New("gateway rejected")
	ErrTimeout          = errors.New("timeout")
	ErrInternal         = errors.New("internal error")
)

// ErrorKind names a taxonomy bucket.
type ErrorKind string

const (
	KindInvalidArgument  ErrorKind = "invalid_argument"
	KindNotAuthenticated ErrorKind = "not_authenticated"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindUnreachable      ErrorKind = "unreachable"
	KindGatewayRejected  ErrorKind = "gateway_rejected"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal"
)

// KindOf classifies err into the taxonomy. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, ErrGatewayRejected):
		return KindGatewayRejected
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
