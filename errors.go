package weft

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("weft: record not found")

	// ErrTxDone is returned when using a transaction buffer after it has
	// been committed or rolled back.
	ErrTxDone = errors.New("weft: transaction has already been committed or rolled back")
)

// NotFoundError reports a missing record.
type NotFoundError struct {
	Type string
	ID   string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("weft: %s not found (id=%s)", e.Type, e.ID)
	}
	return fmt.Sprintf("weft: %s not found", e.Type)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError for the given record.
func NewNotFoundError(typ, id string) *NotFoundError {
	return &NotFoundError{Type: typ, ID: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// CapabilityError reports an explicit call into an optional capability the
// provider does not support. Fuzzy relationship resolution never returns it;
// degradation there is a code path, not an error.
type CapabilityError struct {
	Capability Capability
	Message    string
	// Alternative names a degraded strategy the caller could use instead,
	// when one exists.
	Alternative string
}

// Error returns the error string.
func (e *CapabilityError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("provider does not support %s", e.Capability)
	}
	if e.Alternative != "" {
		return fmt.Sprintf("weft: %s (alternative: %s)", msg, e.Alternative)
	}
	return "weft: " + msg
}

// NewCapabilityError returns a new CapabilityError for the given capability.
func NewCapabilityError(cap Capability, message, alternative string) *CapabilityError {
	return &CapabilityError{Capability: cap, Message: message, Alternative: alternative}
}

// IsCapabilityError returns true if the error is a *CapabilityError.
func IsCapabilityError(err error) bool {
	if err == nil {
		return false
	}
	var e *CapabilityError
	return errors.As(err, &e)
}

// ResolutionError reports a failed relationship resolution: a required exact
// link whose target is missing, or a fallback that itself failed. It is
// surfaced on the lazy relation access, or routed to OnError inside a cascade.
type ResolutionError struct {
	Type  string // entity type owning the relation
	ID    string // entity id, empty for unpersisted instances
	Field string // relation field name
	Err   error
}

// Error returns the error string.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("weft: resolving %s.%s (id=%s): %v", e.Type, e.Field, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError returns a new ResolutionError.
func NewResolutionError(typ, id, fieldName string, err error) *ResolutionError {
	return &ResolutionError{Type: typ, ID: id, Field: fieldName, Err: err}
}

// IsResolutionError returns true if the error is a *ResolutionError.
func IsResolutionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ResolutionError
	return errors.As(err, &e)
}

// GenerationError reports a failure of the external generation collaborator.
type GenerationError struct {
	Type string // entity type being generated
	Err  error
}

// Error returns the error string.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("weft: generating %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError returns a new GenerationError.
func NewGenerationError(typ string, err error) *GenerationError {
	return &GenerationError{Type: typ, Err: err}
}

// IsGenerationError returns true if the error is a *GenerationError.
func IsGenerationError(err error) bool {
	if err == nil {
		return false
	}
	var e *GenerationError
	return errors.As(err, &e)
}

// CommitError reports a failed transaction commit. Buffered operations
// applied before the failure were undone before it was returned; the caller
// must retry the whole transaction.
type CommitError struct {
	Index int // position of the failed operation in buffering order
	Op    string
	Err   error
}

// Error returns the error string.
func (e *CommitError) Error() string {
	return fmt.Sprintf("weft: commit failed at op %d (%s): %v", e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError returns true if the error is a *CommitError.
func IsCommitError(err error) bool {
	if err == nil {
		return false
	}
	var e *CommitError
	return errors.As(err, &e)
}
