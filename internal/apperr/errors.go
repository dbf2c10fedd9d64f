package apperr

import "errors"

var (
	// ErrUnauthenticated means identity verification failed. The connection
	// is refused before any registry entry exists.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownRecipient means a send targeted a user id the directory does
	// not know. The message is neither persisted nor fanned out.
	ErrUnknownRecipient = errors.New("unknown recipient")

	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")

	// ErrReconnectExhausted is surfaced by the client once the retry budget
	// is spent. Terminal for the session.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
