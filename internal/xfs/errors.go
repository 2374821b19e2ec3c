// Package xfs defines the backend-abstracted remote transfer surface:
// the uniform types, error taxonomy and capability interface that every
// protocol backend (sftp, ftp, s3) implements and the dispatcher routes
// between.
package xfs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the normalised error taxonomy surfaced at the dispatcher boundary.
type Kind int

const (
	// KindInternal is the zero value: an unclassified failure.
	KindInternal Kind = iota
	KindAuthFailed
	KindNetworkUnreachable
	KindNetworkDropped
	KindTLSFailure
	KindProtocol
	KindPermission
	KindNotFound
	KindNotConnected
	KindUnsupported
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailed:
		return "AuthFailed"
	case KindNetworkUnreachable:
		return "NetworkUnreachable"
	case KindNetworkDropped:
		return "NetworkDropped"
	case KindTLSFailure:
		return "TlsFailure"
	case KindProtocol:
		return "Protocol"
	case KindPermission:
		return "Permission"
	case KindNotFound:
		return "NotFound"
	case KindNotConnected:
		return "NotConnected"
	case KindUnsupported:
		return "Unsupported"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is the typed error every backend and the dispatcher return.
// It always carries a Kind so the queue and UI can classify a failure
// without parsing message text.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, xfs.ErrCancelled) style sentinels compare by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a *Error wrapping cause with the given kind and detail.
func New(kind Kind, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, Cause: errors.WithStack(cause)}
}

// Newf is New with a formatted detail and no underlying cause.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// isn't a *Error (e.g. a raw context.Canceled from a cooperative cancel).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinel instances for errors.Is comparisons against a bare Kind.
var (
	ErrUnsupported  = &Error{Kind: KindUnsupported, Detail: "operation not supported by this backend"}
	ErrNotConnected = &Error{Kind: KindNotConnected, Detail: "no active connection"}
	ErrCancelled    = &Error{Kind: KindCancelled, Detail: "operation cancelled"}
)
