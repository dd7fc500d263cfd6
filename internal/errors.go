package internal

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the provider boundary. The rest of
// the system matches kinds, never raw provider error strings.
type ErrorKind int

const (
	// KindUnknown covers failures with no recognized signature. They are
	// treated conservatively as provider instability.
	KindUnknown ErrorKind = iota
	// KindDisabled means the provider is unusable for the rest of this
	// process's lifetime. Not recoverable short of restarting the host.
	KindDisabled
	// KindInvalidated means the handle was torn down mid-use. Recoverable
	// by reinitializing.
	KindInvalidated
	// KindQuotaExceeded means the call would not fit the context window.
	// Recoverable by truncation or reset.
	KindQuotaExceeded
	// KindCancelled means the user aborted the call. Not a failure.
	KindCancelled
	// KindCrash means the raw error matched a known crash signature of the
	// provider. The guard treats it like any other instability; the
	// orchestrator is allowed one transparent retry on a fresh handle.
	KindCrash
)

func (k ErrorKind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindInvalidated:
		return "invalidated"
	case KindQuotaExceeded:
		return "quota exceeded"
	case KindCancelled:
		return "cancelled"
	case KindCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// ProviderError wraps a raw provider failure with its classified kind.
type ProviderError struct {
	Kind ErrorKind
	Op   string // "availability", "create", "prompt", "measure"
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// DisabledError is returned once the session guard has permanently refused
// further creation attempts. The reason is recorded at disable time and
// repeated verbatim on every subsequent call.
type DisabledError struct {
	Reason string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("model sessions disabled: %s", e.Reason)
}

// NotReadyError is returned when a send is refused because an attachment is
// still processing.
type NotReadyError struct {
	Name string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("attachment %q is still processing", e.Name)
}

// StorageError represents a failure in a persistence backend.
type StorageError struct {
	Backend string // "sqlite", "remote"
	Op      string // "save_chat", "save_message", "load", "delete"
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [%s] %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConversionError represents a failure of the document conversion service.
type ConversionError struct {
	Source string // filename or URL
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error [%s]: %v", e.Source, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ClassifyError extracts the provider error kind from an error chain.
// Context cancellation counts as KindCancelled even when the provider
// surfaced it as its own error type.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var de *DisabledError
	if errors.As(err, &de) {
		return KindDisabled
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
