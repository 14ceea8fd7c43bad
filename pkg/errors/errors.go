package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrInternal
)

// Ingestion error codes. Archive-level codes abort a batch, file-level codes
// are recorded against a single file.
const (
	ErrInvalidArchive ErrorCode = iota + 2000
	ErrMissingRequiredTag
	ErrUnsupportedModalityNoTag
	ErrUnresolvedReference
	ErrPersistenceConflict
	ErrSerializationFailure
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

// InvalidArchive is returned when an archive cannot be opened or read.
func InvalidArchive(path string, err error) *AppError {
	return &AppError{
		Code:    ErrInvalidArchive,
		Message: fmt.Sprintf("invalid archive %s", path),
		Err:     err,
	}
}

// MissingRequiredTag is returned when a hierarchy UID is absent from a file.
func MissingRequiredTag(tagName string) *AppError {
	return &AppError{
		Code:    ErrMissingRequiredTag,
		Message: fmt.Sprintf("%s is required but not found in DICOM file", tagName),
	}
}

// ModalityNotPresent marks a file that carries no Modality tag. Such files are
// skipped rather than failed.
func ModalityNotPresent() *AppError {
	return &AppError{
		Code:    ErrUnsupportedModalityNoTag,
		Message: "Modality tag not present",
	}
}

func UnresolvedReference(kind, uid string) *AppError {
	return &AppError{
		Code:    ErrUnresolvedReference,
		Message: fmt.Sprintf("unresolved %s reference %q", kind, uid),
	}
}

func PersistenceConflict(entity string, err error) *AppError {
	return &AppError{
		Code:    ErrPersistenceConflict,
		Message: fmt.Sprintf("conflicting write on %s", entity),
		Err:     err,
	}
}

func SerializationFailure(path string, err error) *AppError {
	return &AppError{
		Code:    ErrSerializationFailure,
		Message: fmt.Sprintf("failed to write %s", path),
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}
