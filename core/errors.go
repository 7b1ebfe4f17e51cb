package core

import "errors"

// Error kinds returned by the consensus core. Callers use errors.Is against
// these sentinels; ValidationError additionally carries a stable
// machine-readable Reason.
var (
	// ErrValidation is the parent of every intake rejection.
	ErrValidation = errors.New("proof validation failed")

	// ErrIntegrity marks a recomputed state hash diverging from the one
	// carried in a proof.
	ErrIntegrity = errors.New("state hash integrity check failed")

	// ErrFatalConfig marks a missing required configuration value; the
	// Consumer must abort startup when this is returned.
	ErrFatalConfig = errors.New("fatal configuration error")

	// ErrCrypto marks malformed ciphertext or missing key material in the
	// secret-state AEAD layer.
	ErrCrypto = errors.New("secret state crypto error")

	// ErrAdapterFailed marks a single adapter's failure during an adapter
	// run; the epoch is skipped when any adapter fails.
	ErrAdapterFailed = errors.New("adapter failed")
)

// ValidationError is a structured intake rejection reason, surfaced to the
// caller as a 400 with ValidationError.Reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErr(reason string) error { return &ValidationError{Reason: reason} }
