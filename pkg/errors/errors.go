// Package errors provides a structured error system for ScanGuard with
// error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for ScanGuard operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Filesystem errors
	ErrCodeFileNotFound     ErrorCode = "FILE_NOT_FOUND"
	ErrCodeFileRead         ErrorCode = "FILE_READ"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"
	ErrCodeFileTooLarge     ErrorCode = "FILE_TOO_LARGE"

	// Cache errors
	ErrCodeCacheConfig  ErrorCode = "CACHE_CONFIG"
	ErrCodeCachePersist ErrorCode = "CACHE_PERSIST"
	ErrCodeCacheRestore ErrorCode = "CACHE_RESTORE"

	// Resource errors
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeWorkerBusy        ErrorCode = "WORKER_BUSY"
	ErrCodeLimitExceeded     ErrorCode = "LIMIT_EXCEEDED"

	// State errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeAnalyzerFailed    ErrorCode = "ANALYZER_FAILED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Storage errors (persisted / remote cache)
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryCache         ErrorCategory = "cache"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryStorage       ErrorCategory = "storage"
	CategoryInternal      ErrorCategory = "internal"
)

// ScanGuardError represents a structured error with context and metadata.
type ScanGuardError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ScanGuardError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ScanGuardError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ScanGuardError) Is(target error) bool {
	if sgErr, ok := target.(*ScanGuardError); ok {
		return e.Code == sgErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ScanGuardError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ScanGuardError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *ScanGuardError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new ScanGuard error with default values.
func NewError(code ErrorCode, message string) *ScanGuardError {
	return &ScanGuardError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FILE_") || strings.HasPrefix(codeStr, "PERMISSION_") ||
		strings.HasPrefix(codeStr, "PATH_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "CACHE_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "RESOURCE_") || strings.HasPrefix(codeStr, "WORKER_") ||
		strings.HasPrefix(codeStr, "LIMIT_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "INVALID_STATE") || strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "ANALYZER_") ||
		strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "OBJECT_"):
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeResourceExhausted: true,
		ErrCodeWorkerBusy:        true,
		ErrCodeOperationTimeout:  true,
		ErrCodeStorageRead:       true,
		ErrCodeStorageWrite:      true,
		ErrCodeInternalError:     true,
	}
	return retryableCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *ScanGuardError) WithContext(key, value string) *ScanGuardError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *ScanGuardError) WithDetail(key string, value interface{}) *ScanGuardError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ScanGuardError) WithComponent(component string) *ScanGuardError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ScanGuardError) WithOperation(operation string) *ScanGuardError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ScanGuardError) WithCause(cause error) *ScanGuardError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *ScanGuardError) WithStack() *ScanGuardError {
	e.Stack = CaptureStack(2)
	return e
}

// IsCode reports whether err is a ScanGuardError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	sgErr, ok := err.(*ScanGuardError)
	return ok && sgErr.Code == code
}

// Wrap creates a new error wrapping the cause with the given code.
func Wrap(cause error, code ErrorCode, message string) *ScanGuardError {
	return NewError(code, message).WithCause(cause)
}
