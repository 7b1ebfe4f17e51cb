// Package core implements the consensus engine shared by Petal workers and
// the Consumer: canonicalization and hashing, adapter fan-out, proof
// assembly, epoch scheduling, quorum aggregation, leader publication, and
// log tailing. Collaborator systems (the ledger, the adapters themselves,
// the registry bootstrap, the relational store) are represented here only
// by the narrow interface the engine calls through.
package core

import "time"

// AdapterRecord is produced by one adapter for one epoch. It is immutable
// once returned by an Adapter.
type AdapterRecord struct {
	AdapterID         string         `json:"adapterId"`
	EntityID          string         `json:"entityId"`
	Payload           map[string]any `json:"payload"`
	Timestamp         string         `json:"timestamp"`
	SourceFingerprint string         `json:"sourceFingerprint"`
}

// ProofPayload is one petal's epoch submission.
type ProofPayload struct {
	Epoch                 int64             `json:"epoch"`
	StateHash             string            `json:"stateHash"`
	ThresholdFingerprint  string            `json:"thresholdFingerprint"`
	PetalID               string            `json:"petalId"`
	PetalAccountID        string            `json:"petalAccountId"`
	PetalStateTopicID     string            `json:"petalStateTopicId"`
	FloraAccountID        string            `json:"floraAccountId"`
	Participants          []string          `json:"participants"`
	Records               []AdapterRecord   `json:"records"`
	AdapterFingerprints   map[string]string `json:"adapterFingerprints"`
	RegistryTopicID       string            `json:"registryTopicId"`
	Timestamp             string            `json:"timestamp"`

	// Filled in by the log tailer; absent until backfilled.
	HCSMessage         string `json:"hcsMessage,omitempty"`
	ConsensusTimestamp string `json:"consensusTimestamp,omitempty"`
	SequenceNumber     *int64 `json:"sequenceNumber,omitempty"`
}

// ChunkedProofPayload carries one chunk of a base64-encoded ProofPayload.
type ChunkedProofPayload struct {
	PetalID     string `json:"petalId"`
	Epoch       int64  `json:"epoch"`
	ChunkID     int    `json:"chunk_id"`
	TotalChunks int    `json:"total_chunks"`
	Data        string `json:"data"`
}

// SourceQuote is one adapter's contribution to a ConsensusEntry.
type SourceQuote struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
}

// ConsensusEntry is the result of aggregating one epoch.
type ConsensusEntry struct {
	Epoch        int64         `json:"epoch"`
	StateHash    string        `json:"stateHash"`
	Price        float64       `json:"price"`
	Timestamp    string        `json:"timestamp"`
	Participants []string      `json:"participants"`
	Sources      []SourceQuote `json:"sources"`

	HCSMessage         string `json:"hcsMessage,omitempty"`
	ConsensusTimestamp string `json:"consensusTimestamp,omitempty"`
	SequenceNumber     *int64 `json:"sequenceNumber,omitempty"`

	// Published records whether the leader publisher has successfully
	// submitted this entry's consolidated proof; it is process-local state,
	// not part of the wire representation.
	Published bool `json:"-"`
}

// StateMessage is the JSON body of an hcs-17 state-hash message, whether
// petal-published (minimal) or flora-consolidated (with Price/Participants).
type StateMessage struct {
	P                    string    `json:"p"`
	Op                   string    `json:"op"`
	M                    string    `json:"m"`
	AccountID            string    `json:"account_id"`
	StateHash            string    `json:"state_hash"`
	Topics               []string  `json:"topics"`
	Epoch                *int64    `json:"epoch,omitempty"`
	Price                *float64  `json:"price,omitempty"`
	ThresholdFingerprint string    `json:"threshold_fingerprint,omitempty"`
	Participants         []string  `json:"participants,omitempty"`
	ConsensusTimestamp   string    `json:"-"`
	SequenceNumber       int64     `json:"-"`
}

// EpochMetadata is what the log tailer learns about an epoch before or
// after the aggregator has formed a ConsensusEntry for it.
type EpochMetadata struct {
	ConsensusTimestamp string
	SequenceNumber     int64
	HCSMessage         string
}

// epochTimestamp derives the canonical, clock-independent timestamp for an
// epoch.
func epochTimestamp(epochOriginMs int64, blockTimeMs int64, epoch int64) string {
	ms := epochOriginMs + epoch*blockTimeMs
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
