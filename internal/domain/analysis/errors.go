package analysis

import "errors"

var (
	// ErrValidation indicates a bad input reference (unknown image/model, inactive model).
	ErrValidation = errors.New("validation error")
	// ErrState indicates the operation is invalid for the current status.
	ErrState = errors.New("invalid state")
	// ErrNotFound indicates the analysis does not exist.
	ErrNotFound = errors.New("analysis not found")
	// ErrAlreadyRunning is returned when a workload for the same id is in flight.
	ErrAlreadyRunning = errors.New("analysis workload already running")
)

// Structured error codes stored on FAILED/CANCELLED records.
const (
	CodeModelError    = "MODEL_ERROR"
	CodeMemoryError   = "MEMORY_ERROR"
	CodeFormatError   = "FORMAT_ERROR"
	CodeTimeoutError  = "TIMEOUT_ERROR"
	CodeSystemError   = "SYSTEM_ERROR"
	CodeUserCancelled = "USER_CANCELLED"
	CodeUserDeleted   = "USER_DELETED"
)
