package core

import "sort"

// ProofConfig carries the per-petal, per-flora configuration needed to turn
// a set of AdapterRecords into a ProofPayload.
type ProofConfig struct {
	EpochOriginMs        int64
	BlockTimeMs          int64
	ThresholdFingerprint string
	AdapterFingerprints  map[string]string
	RegistryTopicID      string
	FloraAccountID       string
	PetalID              string
	PetalAccountID       string
	PetalStateTopicID    string
	Participants         []string
}

// BuildProof rewrites each record's timestamp to the canonical epoch
// timestamp, sorts by (adapterId, entityId), hashes the canonical form, and
// packages the envelope.
func BuildProof(epoch int64, records []AdapterRecord, cfg ProofConfig) ProofPayload {
	ts := epochTimestamp(cfg.EpochOriginMs, cfg.BlockTimeMs, epoch)

	stamped := make([]AdapterRecord, len(records))
	copy(stamped, records)
	for i := range stamped {
		stamped[i].Timestamp = ts
	}
	sortRecords(stamped)

	hash := computeStateHash(stamped, cfg.ThresholdFingerprint, cfg.AdapterFingerprints, cfg.RegistryTopicID)

	return ProofPayload{
		Epoch:                epoch,
		StateHash:            hash,
		ThresholdFingerprint: cfg.ThresholdFingerprint,
		PetalID:              cfg.PetalID,
		PetalAccountID:       cfg.PetalAccountID,
		PetalStateTopicID:    cfg.PetalStateTopicID,
		FloraAccountID:       cfg.FloraAccountID,
		Participants:         dedupeSortAccountIDs(cfg.Participants),
		Records:              stamped,
		AdapterFingerprints:  cfg.AdapterFingerprints,
		RegistryTopicID:      cfg.RegistryTopicID,
		Timestamp:            ts,
	}
}

// computeStateHash implements invariant 2: the hash over
// {records, thresholdFingerprint, adapterFingerprints, registryTopicId}.
// The caller must have already sorted records; RecomputeStateHash re-sorts
// defensively so mismatched callers cannot fool the comparison.
func computeStateHash(records []AdapterRecord, thresholdFingerprint string, adapterFingerprints map[string]string, registryTopicID string) string {
	body := map[string]any{
		"records":              records,
		"thresholdFingerprint": thresholdFingerprint,
		"adapterFingerprints":  fingerprintsToMap(adapterFingerprints),
		"registryTopicId":      registryTopicID,
	}
	return StateHash(body)
}

// RecomputeStateHash recomputes a proof's state hash from its own fields,
// for validating invariant 2 at the intake boundary and inside aggregation.
func RecomputeStateHash(p ProofPayload) string {
	sorted := make([]AdapterRecord, len(p.Records))
	copy(sorted, p.Records)
	sortRecords(sorted)
	return computeStateHash(sorted, p.ThresholdFingerprint, p.AdapterFingerprints, p.RegistryTopicID)
}

func sortRecords(records []AdapterRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].AdapterID != records[j].AdapterID {
			return records[i].AdapterID < records[j].AdapterID
		}
		return records[i].EntityID < records[j].EntityID
	})
}

func fingerprintsToMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
