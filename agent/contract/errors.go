package contract

import "errors"

var (
	ErrModelInvoke        = errors.New("model invoke failed")
	ErrSchemaViolation    = errors.New("model response violates schema")
	ErrPromptMissing      = errors.New("required prompt is missing")
	ErrValidation         = errors.New("validation failed")
	ErrToolUnavailable    = errors.New("tool is unavailable")
	ErrUnapprovedToolCall = errors.New("sensitive tool call has no matching approval")
	ErrNotFound           = errors.New("record not found")
)
