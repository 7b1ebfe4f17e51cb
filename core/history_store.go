package core

import "context"

// HistoryStore persists consensus entries and small key/value bootstrap
// state. Implementations must upsert ConsensusEntry on Epoch and load
// entries sorted ascending by epoch.
type HistoryStore interface {
	// UpsertConsensusEntry inserts or updates the entry keyed by its Epoch.
	UpsertConsensusEntry(ctx context.Context, entry ConsensusEntry) error

	// LoadHistory returns every persisted entry, sorted ascending by epoch.
	LoadHistory(ctx context.Context) ([]ConsensusEntry, error)

	// PutSecret stores an already-wrapped (AEAD-encrypted) value under key;
	// the store does not encrypt it itself.
	PutSecret(ctx context.Context, key string, value []byte) error

	// GetSecret retrieves a value stored by PutSecret, still in wrapped
	// form; unwrapping is the caller's job. ok is false if no value is
	// stored for key.
	GetSecret(ctx context.Context, key string) (value []byte, ok bool, err error)

	// PutState stores a plaintext key/value pair (non-secret bootstrap
	// state, e.g. discovered topic ids).
	PutState(ctx context.Context, key string, value string) error

	// GetState retrieves a plaintext value stored by PutState.
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
}
