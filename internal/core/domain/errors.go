package domain

import "errors"

var (
	// ErrNotFound is returned by storage lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected means no credential record exists for the
	// (user, provider) pair.
	ErrNotConnected = errors.New("provider not connected")

	// ErrReauthorizationRequired means the provider rejected the refresh
	// token; the stored credential has been deleted and the user must go
	// through the authorization flow again.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrDecryptionFailed means the authentication tag did not verify:
	// key mismatch, corruption, or tampering. Never retried.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrDuplicateMessage is returned when a dedup insert hits the
	// uniqueness constraint. Ingestion treats it the same as a pre-check
	// hit.
	ErrDuplicateMessage = errors.New("message already ingested")

	// ErrStateInvalid covers an unknown, expired, or already-consumed
	// OAuth state parameter.
	ErrStateInvalid = errors.New("invalid or expired authorization state")
)
