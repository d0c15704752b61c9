package types

import "errors"

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is returned on malformed input
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unhandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrKeyNotFound is returned when a target participant has not yet published
	// a public key. Recoverable: the participant needs to open the app once.
	ErrKeyNotFound = errors.New("public key not found")

	// ErrNotAParticipant is returned when the requesting user has no wrapped-key
	// entry in the conversation
	ErrNotAParticipant = errors.New("not a participant")

	// ErrDecryptionFailed is returned when the authentication tag of a message
	// does not verify (tampering, corruption or a mismatched key)
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotAuthenticated is returned when no session/identity is established
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStorageUnavailable is returned when the directory or backing store is unreachable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidPublicKey is returned when a published key fails to parse
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature is returned when a login challenge signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")
)
