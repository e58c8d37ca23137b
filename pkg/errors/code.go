package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20099: Pipeline configuration errors
// 20100-20199: Stage execution errors
// 20200-20299: Run lifecycle errors
// 20300-20399: Persistence errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// ========== Pipeline Errors (20000-20099) ==========
	PipelineInvalid    ErrorCode = 20000
	ModeNotFound       ErrorCode = 20001
	CommandParseFailed ErrorCode = 20002

	// ========== Stage Errors (20100-20199) ==========
	StageStartFailed ErrorCode = 20100
	StageIOFailed    ErrorCode = 20101

	// ========== Run Errors (20200-20299) ==========
	RunAlreadyActive ErrorCode = 20200
	RunNotFound      ErrorCode = 20201

	// ========== Persistence Errors (20300-20399) ==========
	PersistenceFailed ErrorCode = 20300
	SnapshotFailed    ErrorCode = 20301
	PublishFailed     ErrorCode = 20302
)

// errorMessages maps error codes to their default messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",

	// Database
	DatabaseError: "Database operation failed",

	// Validation
	ValidationFailed: "Validation failed",

	// Pipeline
	PipelineInvalid:    "Pipeline specification is invalid",
	ModeNotFound:       "Test mode not found",
	CommandParseFailed: "Failed to parse stage command",

	// Stage
	StageStartFailed: "Failed to start stage process",
	StageIOFailed:    "Stage input/output failed",

	// Run
	RunAlreadyActive: "Run is already active",
	RunNotFound:      "Run not found",

	// Persistence
	PersistenceFailed: "Failed to persist run",
	SnapshotFailed:    "Failed to build files snapshot",
	PublishFailed:     "Failed to publish run event",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RunNotFound, c == ModeNotFound:
		return 404
	case c == Forbidden:
		return 403
	case c == RunAlreadyActive:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == PipelineInvalid, c == CommandParseFailed:
		return 400
	default:
		return 500
	}
}
