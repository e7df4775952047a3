package model

import "errors"

// Error kinds shared by the ingestion and query paths. Match with errors.Is.
var (
	// ErrExtractionFailed marks a bad input source. Reported per item, never fatal to a batch.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingUnavailable marks a failed call to the embedding capability.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrChatUnavailable marks a failed call to the chat-completion capability.
	ErrChatUnavailable = errors.New("chat unavailable")

	// ErrIndexCorrupt marks a dimension mismatch or namespace violation in a client index.
	// Writes to that index are refused until it is repaired.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrClientNotFound marks an operation on an unknown client.
	ErrClientNotFound = errors.New("client not found")
)

// Validation errors.
var (
	ErrEmptyClientID  = errors.New("client_id is required")
	ErrEmptySourceID  = errors.New("source_id is required")
	ErrEmptyQuestion  = errors.New("question is required")
	ErrClientExists   = errors.New("client already exists")
	ErrSourceNotFound = errors.New("source not found")
	ErrTurnNotFound   = errors.New("conversation turn not found")
	ErrThreadNotFound = errors.New("email thread not found")
	ErrEmptyName      = errors.New("name must not be empty")
)

// permanentError wraps an error that must not be retried even when its kind is retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
