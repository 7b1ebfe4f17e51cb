package core

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"flora-consensus/pkg/metrics"
)

// IntakeConfig is the fixed, per-run configuration the validator checks
// every proof against.
type IntakeConfig struct {
	FloraAccountID       string
	ThresholdFingerprint string
	RegistryTopicID      string
	ExpectedPetals       int
}

type chunkKey struct {
	petalID string
	epoch   int64
}

type chunkBuffer struct {
	total int
	parts map[int]string // 1-based chunk_id -> data
}

// PetalRosterEntry summarizes one petal's observed identity and adapter
// activity for the /adapters introspection endpoint.
type PetalRosterEntry struct {
	PetalID           string
	PetalAccountID    string
	PetalStateTopicID string
	AdapterIDs        []string
	Fingerprints      map[string]string
}

// Intake performs structural/policy validation of incoming proofs, chunk
// reassembly, and per-(petalId, epoch) idempotence.
type Intake struct {
	cfg       IntakeConfig
	bootstrap Bootstrap

	mu             sync.Mutex
	stateTopicSeen map[string]string   // petalId -> petalStateTopicId observed this run
	accepted       map[chunkKey]string // (petalId, epoch) -> stateHash already accepted
	chunks         map[chunkKey]*chunkBuffer
	roster         map[string]*PetalRosterEntry // petalId -> observed state
}

// NewIntake constructs an Intake. bootstrap may be nil if no bootstrap
// bindings are known yet.
func NewIntake(cfg IntakeConfig, bootstrap Bootstrap) *Intake {
	return &Intake{
		cfg:            cfg,
		bootstrap:      bootstrap,
		stateTopicSeen: make(map[string]string),
		accepted:       make(map[chunkKey]string),
		chunks:         make(map[chunkKey]*chunkBuffer),
		roster:         make(map[string]*PetalRosterEntry),
	}
}

// Roster returns a snapshot of every petal observed this run: its account
// and state-topic bindings plus the adapters (and their fingerprints) seen
// in its proofs so far.
func (in *Intake) Roster() []PetalRosterEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]PetalRosterEntry, 0, len(in.roster))
	for _, e := range in.roster {
		ids := make([]string, 0, len(e.Fingerprints))
		fps := make(map[string]string, len(e.Fingerprints))
		for id, fp := range e.Fingerprints {
			ids = append(ids, id)
			fps[id] = fp
		}
		sort.Strings(ids)
		out = append(out, PetalRosterEntry{
			PetalID:           e.PetalID,
			PetalAccountID:    e.PetalAccountID,
			PetalStateTopicID: e.PetalStateTopicID,
			AdapterIDs:        ids,
			Fingerprints:      fps,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PetalID < out[j].PetalID })
	return out
}

// recordSeenLocked updates the roster entry for a validated proof. Caller
// must hold in.mu.
func (in *Intake) recordSeenLocked(p ProofPayload) {
	e, ok := in.roster[p.PetalID]
	if !ok {
		e = &PetalRosterEntry{PetalID: p.PetalID, Fingerprints: make(map[string]string)}
		in.roster[p.PetalID] = e
	}
	e.PetalAccountID = p.PetalAccountID
	e.PetalStateTopicID = p.PetalStateTopicID
	for adapterID, fp := range p.AdapterFingerprints {
		e.Fingerprints[adapterID] = fp
	}
}

// ParseProofRequest distinguishes a whole ProofPayload from a
// ChunkedProofPayload by structural shape, using explicit validating
// parsers rather than an ambiguous union type.
func ParseProofRequest(raw []byte) (whole *ProofPayload, chunked *ChunkedProofPayload, err error) {
	var probe struct {
		ChunkID     *int    `json:"chunk_id"`
		TotalChunks *int    `json:"total_chunks"`
		Data        *string `json:"data"`
		Records     *json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, validationErr("malformed JSON body")
	}
	if probe.ChunkID != nil && probe.TotalChunks != nil && probe.Data != nil {
		var c ChunkedProofPayload
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, nil, validationErr("malformed chunked proof")
		}
		return nil, &c, nil
	}
	if probe.Records != nil {
		var p ProofPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, nil, validationErr("malformed proof payload")
		}
		return &p, nil, nil
	}
	return nil, nil, validationErr("body is neither a whole nor a chunked proof")
}

// HandleProof accepts a raw JSON body, reassembles chunks if necessary,
// validates it, and returns the assembled, validated ProofPayload.
// A nil ProofPayload with a nil error means a chunk was buffered but the
// payload is not yet complete.
func (in *Intake) HandleProof(raw []byte) (*ProofPayload, error) {
	whole, chunked, err := ParseProofRequest(raw)
	if err != nil {
		metrics.ProofsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	if chunked != nil {
		assembled, err := in.absorbChunk(*chunked)
		if err != nil {
			metrics.ProofsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
			return nil, err
		}
		if assembled == nil {
			return nil, nil
		}
		whole = assembled
	}

	if err := in.validate(*whole); err != nil {
		metrics.ProofsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	in.mu.Lock()
	in.recordSeenLocked(*whole)
	in.mu.Unlock()

	if dup, isDup := in.checkIdempotent(*whole); isDup {
		if dup {
			metrics.ProofsAcceptedTotal.Inc()
			return whole, nil // idempotent re-submission: accepted, no mutation needed downstream
		}
		err := validationErr("conflicting duplicate submission for petal/epoch")
		metrics.ProofsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.ProofsAcceptedTotal.Inc()
	return whole, nil
}

// rejectReason extracts a stable, low-cardinality label for a rejected
// proof: a ValidationError's Reason, or a generic bucket for anything else.
func rejectReason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return "integrity"
}

// absorbChunk buffers one chunk and, once all total_chunks parts for the
// (petalId, epoch) key are present, concatenates them in chunk_id order and
// decodes the assembled ProofPayload.
func (in *Intake) absorbChunk(c ChunkedProofPayload) (*ProofPayload, error) {
	if c.ChunkID < 1 || c.TotalChunks < 1 || c.ChunkID > c.TotalChunks {
		return nil, validationErr("invalid chunk indices")
	}
	key := chunkKey{petalID: c.PetalID, epoch: c.Epoch}

	in.mu.Lock()
	buf, ok := in.chunks[key]
	if !ok {
		buf = &chunkBuffer{total: c.TotalChunks, parts: make(map[int]string)}
		in.chunks[key] = buf
	}
	if buf.total != c.TotalChunks {
		in.mu.Unlock()
		return nil, validationErr("inconsistent total_chunks for petal/epoch")
	}
	buf.parts[c.ChunkID] = c.Data
	complete := len(buf.parts) == buf.total
	var ordered []string
	if complete {
		ordered = make([]string, buf.total)
		for i := 1; i <= buf.total; i++ {
			ordered[i-1] = buf.parts[i]
		}
		delete(in.chunks, key)
	}
	in.mu.Unlock()

	if !complete {
		return nil, nil
	}

	var b64 string
	for _, part := range ordered {
		b64 += part
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, validationErr("malformed chunk data encoding")
	}
	var p ProofPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, validationErr("assembled chunk payload is not a valid proof")
	}
	return &p, nil
}

// DropEpoch discards any partial chunk buffers for epoch, called once the
// epoch has been consolidated; buffers are also dropped on restart since
// they are held only in memory.
func (in *Intake) DropEpoch(epoch int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for k := range in.chunks {
		if k.epoch == epoch {
			delete(in.chunks, k)
		}
	}
}

func (in *Intake) validate(p ProofPayload) error {
	if p.PetalID == "" || p.PetalAccountID == "" || p.PetalStateTopicID == "" || p.StateHash == "" {
		return validationErr("missing required structural field")
	}
	if p.FloraAccountID != in.cfg.FloraAccountID {
		return validationErr("floraAccountId mismatch")
	}
	if p.ThresholdFingerprint != in.cfg.ThresholdFingerprint {
		return validationErr("thresholdFingerprint mismatch")
	}
	if p.RegistryTopicID != in.cfg.RegistryTopicID {
		return validationErr("registryTopicId mismatch")
	}
	if in.bootstrap != nil {
		if boundAccount, known := in.bootstrap.PetalAccountID(p.PetalID); known && boundAccount != p.PetalAccountID {
			return validationErr("petalAccountId does not match bootstrap binding")
		}
	}

	in.mu.Lock()
	seenTopic, seen := in.stateTopicSeen[p.PetalID]
	if !seen {
		in.stateTopicSeen[p.PetalID] = p.PetalStateTopicID
	}
	in.mu.Unlock()
	if seen && seenTopic != p.PetalStateTopicID {
		return validationErr("petalStateTopicId changed mid-run")
	}

	if err := in.validateParticipants(p.Participants); err != nil {
		return err
	}

	if recomputed := RecomputeStateHash(p); recomputed != p.StateHash {
		return fmt.Errorf("%w: got %s want %s", ErrIntegrity, p.StateHash, recomputed)
	}
	return nil
}

func (in *Intake) validateParticipants(participants []string) error {
	if in.bootstrap != nil {
		if known, ok := in.bootstrap.Participants(); ok {
			want := append([]string(nil), known...)
			got := append([]string(nil), participants...)
			SortAccountIDs(want)
			SortAccountIDs(got)
			if !equalStrings(got, want) {
				return validationErr("participants do not match known flora membership")
			}
			return nil
		}
	}
	if in.cfg.ExpectedPetals > 0 && len(participants) != in.cfg.ExpectedPetals {
		return validationErr("participant count does not match expectedPetals")
	}
	return nil
}

// checkIdempotent records acceptance of (petalId, epoch) and reports
// whether this exact submission is a duplicate of one already accepted
// (isDuplicate). The first return value is only meaningful when isDuplicate
// is true: it is true for a matching (idempotent) duplicate and false for a
// conflicting one.
func (in *Intake) checkIdempotent(p ProofPayload) (duplicateIsMatch bool, isDuplicate bool) {
	key := chunkKey{petalID: p.PetalID, epoch: p.Epoch}
	in.mu.Lock()
	defer in.mu.Unlock()
	prev, ok := in.accepted[key]
	if !ok {
		in.accepted[key] = p.StateHash
		return false, false
	}
	return prev == p.StateHash, true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
