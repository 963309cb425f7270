// Package session binds one client stream to one engine child process and
// relays traffic between them.
package session

import "encoding/json"

// Machine-readable error codes carried in the error_code field of error
// frames.
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeServerBusy      = "SERVER_BUSY"
	CodeCLINotFound     = "CLI_NOT_FOUND"
	CodeBufferOverflow  = "BUFFER_OVERFLOW"
	CodeCLIStderr       = "CLI_STDERR"
	CodeCLIExited       = "CLI_EXITED"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeProcessingError = "MESSAGE_PROCESSING_ERROR"
	CodeTimeout         = "TIMEOUT"
)

// Protocol-level close codes (RFC 6455 values).
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseTooBig          = 1009
	CloseTryLater        = 1013
)

// Welcome is the first frame on every accepted stream. PID is present only
// for control sessions.
type Welcome struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	PID       int    `json:"pid,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorFrame is the uniform failure shape sent to clients.
type ErrorFrame struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	ID        string `json:"id,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// NewError builds an ErrorFrame with the given code and human message.
func NewError(code, msg string) ErrorFrame {
	return ErrorFrame{Status: "error", Error: msg, ErrorCode: code}
}

// MetricsUpdate wraps a telemetry payload for both the owning client and the
// passive subscribers.
type MetricsUpdate struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WrapMetrics builds the broadcast form of a telemetry frame.
func WrapMetrics(data json.RawMessage) MetricsUpdate {
	return MetricsUpdate{Type: "metrics:update", Data: data}
}
