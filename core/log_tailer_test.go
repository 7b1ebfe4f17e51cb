package core_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	. "flora-consensus/core"
)

func (f *fakeMirror) seedWithTimestamp(topicID, ts string, m StateMessage) {
	data, _ := json.Marshal(m)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[topicID] = append(f.messages[topicID], LogMessage{ConsensusTimestamp: ts, SequenceNumber: 1, Data: data})
}

type recordingMetadataSink struct {
	mu    sync.Mutex
	calls map[int64]EpochMetadata
}

func newRecordingMetadataSink() *recordingMetadataSink {
	return &recordingMetadataSink{calls: make(map[int64]EpochMetadata)}
}

func (s *recordingMetadataSink) ApplyMetadata(epoch int64, meta EpochMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[epoch] = meta
}

func (s *recordingMetadataSink) get(epoch int64) (EpochMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.calls[epoch]
	return m, ok
}

type recordingProofSink struct {
	mu     sync.Mutex
	proofs []ProofPayload
}

func (s *recordingProofSink) Accept(p ProofPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs = append(s.proofs, p)
}

func (s *recordingProofSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proofs)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestTailerBackfillsMetadataForEpoch(t *testing.T) {
	mirror := newFakeMirror()
	epoch := int64(7)
	mirror.seedWithTimestamp("0.0.900", "1700000000.000000001", StateMessage{
		P: "hcs-17", Op: "state_hash", Epoch: &epoch, StateHash: "irrelevant-for-metadata-only",
	})

	metadata := newRecordingMetadataSink()
	proofs := &recordingProofSink{}

	tailer := NewTailer(TailerConfig{FloraStateTopicID: "0.0.900", PollInterval: 5 * time.Millisecond}, mirror, proofs, metadata, "", testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer.Start(ctx)

	waitUntil(t, time.Second, func() bool {
		_, ok := metadata.get(epoch)
		return ok
	})

	meta, _ := metadata.get(epoch)
	if meta.ConsensusTimestamp != "1700000000.000000001" {
		t.Fatalf("ConsensusTimestamp = %q, want the seeded timestamp", meta.ConsensusTimestamp)
	}
}

func TestTailerFeedsStructuralProofsBackToAggregator(t *testing.T) {
	mirror := newFakeMirror()
	records := []AdapterRecord{{AdapterID: "a1", EntityID: "HBAR/USD", Payload: map[string]any{"price": 1.0, "source": "x"}}}
	p := BuildProof(1, records, ProofConfig{})
	raw, _ := json.Marshal(p)
	mirror.mu.Lock()
	mirror.messages["0.0.900"] = append(mirror.messages["0.0.900"], LogMessage{ConsensusTimestamp: "1700000000.1", SequenceNumber: 1, Data: raw})
	mirror.mu.Unlock()

	metadata := newRecordingMetadataSink()
	proofs := &recordingProofSink{}

	tailer := NewTailer(TailerConfig{FloraStateTopicID: "0.0.900", PollInterval: 5 * time.Millisecond}, mirror, proofs, metadata, "", testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer.Start(ctx)

	waitUntil(t, time.Second, func() bool { return proofs.count() > 0 })
}

func TestTailerCursorIsMonotonic(t *testing.T) {
	mirror := newFakeMirror()
	epoch := int64(1)
	mirror.seedWithTimestamp("0.0.900", "100.0", StateMessage{P: "hcs-17", Op: "state_hash", Epoch: &epoch})

	metadata := newRecordingMetadataSink()
	proofs := &recordingProofSink{}

	tailer := NewTailer(TailerConfig{FloraStateTopicID: "0.0.900", PollInterval: 5 * time.Millisecond}, mirror, proofs, metadata, "100.0", testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	if _, ok := metadata.get(epoch); ok {
		t.Fatal("tailer re-processed a message at or before its starting cursor")
	}
}
