package domain

import "errors"

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAmount    = errors.New("invalid_amount")
	// ErrEventIgnored marks provider events the broker does not act on
	// (still acknowledged with 200).
	ErrEventIgnored = errors.New("event_ignored")
	// ErrDuplicatePayment is the idempotency short-circuit; callers
	// treat it as success.
	ErrDuplicatePayment = errors.New("duplicate_payment")
)
