package core_test

import (
	. "flora-consensus/core"
	"testing"
)

func testProofConfig() ProofConfig {
	return ProofConfig{
		EpochOriginMs:        1_700_000_000_000,
		BlockTimeMs:          2000,
		ThresholdFingerprint: "tf-1",
		AdapterFingerprints:  map[string]string{"a1": "fp1", "a2": "fp2"},
		RegistryTopicID:      "0.0.500",
		FloraAccountID:       "0.0.100",
		PetalID:              "petal-1",
		PetalAccountID:       "0.0.200",
		PetalStateTopicID:    "0.0.300",
		Participants:         []string{"0.0.200", "0.0.100"},
	}
}

func TestBuildProofRecomputeStateHashFixpoint(t *testing.T) {
	records := []AdapterRecord{
		{AdapterID: "a2", EntityID: "e1", Payload: map[string]any{"price": 1.5, "source": "x"}},
		{AdapterID: "a1", EntityID: "e1", Payload: map[string]any{"price": 2.5, "source": "y"}},
	}
	proof := BuildProof(42, records, testProofConfig())

	if proof.StateHash == "" {
		t.Fatal("BuildProof produced an empty state hash")
	}
	if RecomputeStateHash(proof) != proof.StateHash {
		t.Fatalf("RecomputeStateHash(proof) = %s, want %s", RecomputeStateHash(proof), proof.StateHash)
	}
}

func TestBuildProofRecordOrderDoesNotAffectHash(t *testing.T) {
	cfg := testProofConfig()
	r1 := AdapterRecord{AdapterID: "a1", EntityID: "e1", Payload: map[string]any{"price": 1.0, "source": "x"}}
	r2 := AdapterRecord{AdapterID: "a2", EntityID: "e1", Payload: map[string]any{"price": 2.0, "source": "y"}}

	p1 := BuildProof(1, []AdapterRecord{r1, r2}, cfg)
	p2 := BuildProof(1, []AdapterRecord{r2, r1}, cfg)

	if p1.StateHash != p2.StateHash {
		t.Fatalf("state hash depends on input record order: %s != %s", p1.StateHash, p2.StateHash)
	}
}

func TestBuildProofStampsEpochTimestamp(t *testing.T) {
	cfg := testProofConfig()
	records := []AdapterRecord{{AdapterID: "a1", EntityID: "e1", Payload: map[string]any{"price": 1.0, "source": "x"}}}

	proof := BuildProof(5, records, cfg)
	if proof.Timestamp == "" {
		t.Fatal("expected a non-empty stamped timestamp")
	}
	for _, r := range proof.Records {
		if r.Timestamp != proof.Timestamp {
			t.Fatalf("record timestamp %q does not match proof timestamp %q", r.Timestamp, proof.Timestamp)
		}
	}
}

func TestBuildProofParticipantsDeduppedAndSorted(t *testing.T) {
	cfg := testProofConfig()
	cfg.Participants = []string{"0.0.200", "0.0.100", "0.0.200"}
	proof := BuildProof(1, nil, cfg)
	want := []string{"0.0.100", "0.0.200"}
	if len(proof.Participants) != len(want) {
		t.Fatalf("Participants = %v, want %v", proof.Participants, want)
	}
	for i, id := range want {
		if proof.Participants[i] != id {
			t.Fatalf("Participants = %v, want %v", proof.Participants, want)
		}
	}
}
