package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents registry or schema rule violations
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInference represents a proposed relationship that could not be applied
	ErrorTypeInference ErrorType = "inference"
	// ErrorTypeMerge represents merge state errors such as an empty undo stack
	ErrorTypeMerge ErrorType = "merge"
	// ErrorTypeRestore represents a failed undo/redo restoration
	ErrorTypeRestore ErrorType = "restore"
	// ErrorTypeStorage represents persistence backend errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents unknown entity or record ids
	ErrorTypeNotFound ErrorType = "not_found"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind reports the error category.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ValidationError is returned when a relationship or entity breaks registry rules.
type ValidationError struct {
	*BaseError
	Issues []string
}

func NewValidationError(issues ...string) *ValidationError {
	return &ValidationError{
		BaseError: NewBaseError(ErrorTypeValidation, "validation failed: "+strings.Join(issues, "; "), nil),
		Issues:    issues,
	}
}

// Inference Errors

// InferenceSkip describes a proposed relationship that was dropped from a batch.
type InferenceSkip struct {
	*BaseError
	SourceID         string
	TargetID         string
	RelationshipType string
}

func NewInferenceSkip(sourceID, targetID, relType string, err error) *InferenceSkip {
	return &InferenceSkip{
		BaseError:        NewBaseError(ErrorTypeInference, fmt.Sprintf("skipped %s %s->%s", relType, sourceID, targetID), err),
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: relType,
	}
}

// Merge Errors

// ErrNothingToUndo is returned when the undo stack is empty
var ErrNothingToUndo = NewBaseError(ErrorTypeMerge, "nothing to undo", nil)

// ErrNothingToRedo is returned when the redo stack is empty
var ErrNothingToRedo = NewBaseError(ErrorTypeMerge, "nothing to redo", nil)

// ErrSelfMerge is returned when a merge names the same entity twice
var ErrSelfMerge = NewBaseError(ErrorTypeValidation, "an entity cannot be merged into itself", nil)

// RestoreFailure is returned when the undo/redo collaborator fails.
type RestoreFailure struct {
	*BaseError
	RecordID  string
	Operation string
}

func NewRestoreFailure(operation, recordID string, err error) *RestoreFailure {
	return &RestoreFailure{
		BaseError: NewBaseError(ErrorTypeRestore, fmt.Sprintf("%s of merge %s failed", operation, recordID), err),
		RecordID:  recordID,
		Operation: operation,
	}
}

// Lookup Errors

// NotFound is returned when an entity or record id is unknown.
type NotFound struct {
	*BaseError
	Resource string
	ID       string
}

func NewNotFound(kind, id string) *NotFound {
	return &NotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", kind, id), nil),
		Resource:  kind,
		ID:        id,
	}
}

// Storage Errors

// StorageFailure wraps an error from a persistence backend.
type StorageFailure struct {
	*BaseError
	Backend string
	Op      string
}

func NewStorageFailure(backend, op string, err error) *StorageFailure {
	return &StorageFailure{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("%s: %s", backend, op), err),
		Backend:   backend,
		Op:        op,
	}
}

// Config Errors

// ConfigValidationFailed is returned when configuration validation fails
type ConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ConfigValidationFailed {
	return &ConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

type kinded interface {
	Kind() ErrorType
}

// TypeOf returns the category of the first categorized error in the chain.
func TypeOf(err error) (ErrorType, bool) {
	var k kinded
	if stderrors.As(err, &k) {
		return k.Kind(), true
	}
	return "", false
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	t, ok := TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case ErrorTypeValidation, ErrorTypeConfig:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeMerge:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
