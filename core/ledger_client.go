package core

import "context"

// LedgerClient is the narrow surface the consensus core needs from the
// underlying ledger; topic creation, mirror HTTP transport, and key
// management all live behind implementations of this interface.
type LedgerClient interface {
	// SubmitMessage signs data with the given payer/key role and submits it
	// to topicID. It returns the assigned consensus timestamp and sequence
	// number on success.
	SubmitMessage(ctx context.Context, topicID string, payerAccountID string, data []byte) (consensusTimestamp string, sequenceNumber int64, err error)

	// AccountKey returns an account's public key and key type. Callers
	// cache the result for a few minutes.
	AccountKey(ctx context.Context, accountID string) (publicKey string, keyType string, err error)
}

// LogMessage is one decoded entry from a topic's message stream.
type LogMessage struct {
	ConsensusTimestamp string
	SequenceNumber     int64
	Data               []byte // base64-decoded payload
}

// MirrorReader tails a topic's message stream over HTTP with order/limit/
// timestamp filters.
type MirrorReader interface {
	// ReadMessages returns up to limit messages on topicID in the given
	// order ("asc" or "desc"), optionally restricted to messages with a
	// consensus timestamp strictly greater than sinceTimestamp (pass ""
	// for no lower bound).
	ReadMessages(ctx context.Context, topicID string, order string, limit int, sinceTimestamp string) ([]LogMessage, error)
}

// Bootstrap resolves topic ids and manifest pointers used in configuration.
// On first boot these come from registry provisioning (out of scope here);
// subsequently they are served from cached local state.
type Bootstrap interface {
	// PetalAccountID returns the known account id bound to a petal label,
	// if any binding has been observed yet.
	PetalAccountID(petalID string) (string, bool)

	// Participants returns the full, known member account id set for the
	// flora, if the bootstrap store has it cached.
	Participants() ([]string, bool)
}
