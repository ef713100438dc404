package pattern

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPattern indicates a definition failed validation at registration.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrDuplicatePattern indicates the (domain, name, version) identity is taken.
	ErrDuplicatePattern = errors.New("duplicate pattern")

	// ErrPatternNotFound indicates no definition exists for an identity.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrPatternInactive indicates the definition was deactivated.
	ErrPatternInactive = errors.New("pattern inactive")
)

// Error carries the operation and identity of a failed catalog operation.
// Kind is one of the sentinel errors above.
type Error struct {
	Op   string
	Key  Key
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Kind)
	case errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error.
func NewError(op string, key Key, kind error, err error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}
