package models

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a document id is unknown.
type NotFoundError struct {
	DocumentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.DocumentID)
}

// ExtractionError reports a failed Segment Task.
type ExtractionError struct {
	Message string
	// Segment is the zero-based index of the failing task, -1 when not tied to one.
	Segment int
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ValidationError reports a malformed request into the orchestrator or pipeline.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// BusUnavailableError wraps a message bus failure. It never reaches callers of Publish.
type BusUnavailableError struct {
	Cause error
}

func (e *BusUnavailableError) Error() string {
	return fmt.Sprintf("message bus unavailable: %v", e.Cause)
}

func (e *BusUnavailableError) Unwrap() error { return e.Cause }

// TransitionError reports a transition the state machine refused.
type TransitionError struct {
	DocumentID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %q: invalid transition %s -> %s", e.DocumentID, e.From, e.To)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrorInfoFrom converts err into the persisted failure description.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: ErrorKindInternal, Message: err.Error()}
	var (
		ee *ExtractionError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &ee):
		info.Kind = ErrorKindExtraction
		info.Message = ee.Message
		if ee.Cause != nil {
			info.Detail = ee.Cause.Error()
		}
	case errors.As(err, &ve):
		info.Kind = ErrorKindValidation
	}
	return info
}

// DuplicateError is returned when an upload matches the content hash of an existing document.
type DuplicateError struct {
	ExistingID string
	FileHash   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of document %q", e.ExistingID)
}
