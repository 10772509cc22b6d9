package chat

import "errors"

var (
	// ErrStoreWrite is returned when appending or updating a message fails.
	ErrStoreWrite = errors.New("store write failed")
	// ErrStoreRead is returned when querying messages fails.
	ErrStoreRead = errors.New("store read failed")
	// ErrAnalysis is returned when no analysis result could be produced.
	ErrAnalysis = errors.New("analysis failed")
	// ErrResponder is returned when the responder could not produce a reply.
	ErrResponder = errors.New("responder failed")

	// ErrBlocked is returned when a message is rejected by moderation.
	ErrBlocked = errors.New("message contains banned terms")
	// ErrUnconfirmed is returned when an operation targets a message the
	// store has not confirmed yet.
	ErrUnconfirmed = errors.New("message is not confirmed")
	// ErrAnalyzing is returned when a message is already being analyzed.
	ErrAnalyzing = errors.New("message is already being analyzed")
	// ErrAlreadyEnriched is returned when a message has every analysis field.
	ErrAlreadyEnriched = errors.New("message is already enriched")
	// ErrNotFound is returned when a message is not known.
	ErrNotFound = errors.New("message not found")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("session closed")
)
