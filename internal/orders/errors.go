package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every workflow failure unwraps to exactly one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrOutOfStock         = errors.New("out of stock")
	ErrVariantUnavailable = errors.New("variant unavailable")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOrderNotModifiable = errors.New("order not modifiable")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrEmptyOrder         = errors.New("empty order")
	ErrOwnershipMismatch  = errors.New("ownership mismatch")
	// ErrConflict means the order changed after it was loaded. Retrying the
	// whole workflow is safe.
	ErrConflict = errors.New("concurrent modification")
)

// Error carries the context a caller needs to render a precise message
// without re-reading the order.
type Error struct {
	Kind      error
	Op        string
	Resource  string // order | item | variant
	ID        string
	VariantID string
	Current   Status
	Target    Status
	Requested int
	Available int
	Msg       string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Resource != "" && e.ID != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Resource, e.ID)
	}
	if e.VariantID != "" && e.Resource != "variant" {
		fmt.Fprintf(&b, " variant=%s", e.VariantID)
	}
	switch {
	case e.Current != "" && e.Target != "":
		fmt.Fprintf(&b, " from %s to %s", e.Current, e.Target)
	case e.Current != "":
		fmt.Fprintf(&b, " status=%s", e.Current)
	}
	if e.Kind == ErrOutOfStock {
		fmt.Fprintf(&b, " requested=%d available=%d", e.Requested, e.Available)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// AsError extracts the typed error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, or nil for opaque internal errors.
func KindOf(err error) error {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return nil
}

func NotFound(resource, id string) *Error {
	return &Error{Kind: ErrNotFound, Resource: resource, ID: id}
}

func InvalidArgument(op, msg string) *Error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Msg: msg}
}

func InvalidTransition(op string, from, to Status) *Error {
	return &Error{Kind: ErrInvalidTransition, Op: op, Current: from, Target: to}
}

func Conflict(id string, version int64) *Error {
	return &Error{Kind: ErrConflict, Resource: "order", ID: id, Msg: fmt.Sprintf("version %d is stale", version)}
}
