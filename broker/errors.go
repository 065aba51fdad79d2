package broker

import (
	"errors"

	"github.com/objtalk/objtalk/object"
	"github.com/objtalk/objtalk/pattern"
	"github.com/objtalk/objtalk/rpc"
	"github.com/objtalk/objtalk/subscription"
)

// Kind is the stable string tag carried in a response's "error" field.
type Kind string

const (
	KindInvalidPattern       Kind = "InvalidPattern"
	KindUnknownObject        Kind = "UnknownObject"
	KindUnknownQuery         Kind = "UnknownQuery"
	KindUnknownInvocation    Kind = "UnknownInvocation"
	KindNoProvider           Kind = "NoProvider"
	KindProviderDisconnected Kind = "ProviderDisconnected"
	KindStorageError         Kind = "StorageError"
	KindMalformedRequest     Kind = "MalformedRequest"
)

// Error is a classified broker failure: a stable Kind plus the
// underlying cause, so a transport can render {error: string(Kind)}
// without inspecting Go error types itself.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func classify(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// ErrUnknownObject is returned when an operation that requires an
// existing object (emit, invoke) targets a name with no current value.
var ErrUnknownObject = errors.New("broker: unknown object")

// classifyErr maps a component-level sentinel error to its wire Kind.
// Unrecognized errors are reported as StorageError: every sentinel the
// core can return is enumerated below, so anything else must have come
// from the storage adapter.
func classifyErr(err error) *Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, pattern.ErrInvalidPattern):
		return classify(KindInvalidPattern, err)
	case errors.Is(err, ErrUnknownObject):
		return classify(KindUnknownObject, err)
	case errors.Is(err, subscription.ErrUnknownQuery):
		return classify(KindUnknownQuery, err)
	case errors.Is(err, object.ErrMalformedValue):
		return classify(KindMalformedRequest, err)
	case errors.Is(err, rpc.ErrUnknownInvocation):
		return classify(KindUnknownInvocation, err)
	case errors.Is(err, rpc.ErrNoProvider):
		return classify(KindNoProvider, err)
	case errors.Is(err, rpc.ErrProviderDisconnected):
		return classify(KindProviderDisconnected, err)
	default:
		return classify(KindStorageError, err)
	}
}
