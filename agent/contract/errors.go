package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrNotFound            = errors.New("not found")
	ErrAmbiguousSignal     = errors.New("ambiguous signal")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrExternalUnavailable = errors.New("external collaborator unavailable")
	ErrAttemptCapExceeded  = errors.New("attempt cap exceeded")
	ErrConversationClosed  = errors.New("conversation is closed")
)
