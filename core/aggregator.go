package core

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"flora-consensus/pkg/metrics"
)

// ConsensusHandler is notified once an epoch reaches quorum, handing the
// consolidated entry off to the leader publisher and history store.
type ConsensusHandler interface {
	OnConsensus(entry ConsensusEntry, proofs []ProofPayload)
}

// Aggregator maintains the per-epoch proof buckets and metadata map, and
// implements the quorum/median consolidation logic.
type Aggregator struct {
	quorum    int
	bootstrap Bootstrap
	handler   ConsensusHandler
	log       *zap.SugaredLogger

	mu       sync.Mutex
	buckets  map[int64][]ProofPayload
	metadata map[int64]EpochMetadata
	emitted  map[int64]string // epoch -> stateHash of the entry already emitted
}

// NewAggregator constructs an Aggregator. quorum must be >= 1.
func NewAggregator(quorum int, bootstrap Bootstrap, handler ConsensusHandler, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		quorum:    quorum,
		bootstrap: bootstrap,
		handler:   handler,
		log:       log,
		buckets:   make(map[int64][]ProofPayload),
		metadata:  make(map[int64]EpochMetadata),
		emitted:   make(map[int64]string),
	}
}

// Accept enriches a proof with known metadata, appends it to the epoch
// bucket, and attempts aggregation. It is safe for concurrent use; proofs
// for a single epoch are processed in call order. A proof whose petalId,
// petalAccountId and stateHash match one already in the bucket is ignored,
// so a resubmission does not count twice toward quorum.
func (a *Aggregator) Accept(p ProofPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if meta, ok := a.metadata[p.Epoch]; ok {
		applyMetadataLocked(&p, meta)
	}

	for _, q := range a.buckets[p.Epoch] {
		if q.PetalID == p.PetalID && q.PetalAccountID == p.PetalAccountID && q.StateHash == p.StateHash {
			return
		}
	}

	if _, done := a.emitted[p.Epoch]; done {
		// Late arrival for an already-consolidated epoch: keep it for
		// validation/metadata purposes but do not re-aggregate.
		a.buckets[p.Epoch] = append(a.buckets[p.Epoch], p)
		return
	}

	a.buckets[p.Epoch] = append(a.buckets[p.Epoch], p)
	a.tryAggregateLocked(p.Epoch)
}

// ApplyMetadata records log-derived metadata for an epoch and copies it into
// the proofs already in that epoch's bucket, so an entry emitted later
// carries it. It does not update or re-emit a ConsensusEntry that has
// already been emitted, and the handler is not called.
func (a *Aggregator) ApplyMetadata(epoch int64, meta EpochMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[epoch] = meta
	for i := range a.buckets[epoch] {
		applyMetadataLocked(&a.buckets[epoch][i], meta)
	}
}

func applyMetadataLocked(p *ProofPayload, meta EpochMetadata) {
	if p.ConsensusTimestamp == "" {
		p.ConsensusTimestamp = meta.ConsensusTimestamp
	}
	if p.SequenceNumber == nil && meta.SequenceNumber != 0 {
		sn := meta.SequenceNumber
		p.SequenceNumber = &sn
	}
	if p.HCSMessage == "" {
		p.HCSMessage = meta.HCSMessage
	}
}

// tryAggregateLocked implements the quorum/plurality/median logic. Caller
// must hold a.mu.
func (a *Aggregator) tryAggregateLocked(epoch int64) {
	bucket := a.buckets[epoch]
	if len(bucket) < a.quorum {
		return
	}

	groups := make(map[string][]ProofPayload)
	var order []string
	for _, p := range bucket {
		if _, ok := groups[p.StateHash]; !ok {
			order = append(order, p.StateHash)
		}
		groups[p.StateHash] = append(groups[p.StateHash], p)
	}

	// Largest group wins; ties broken by insertion (first-seen) order per
	// ties broken by first-seen order.
	var bestHash string
	var best []ProofPayload
	for _, hash := range order {
		g := groups[hash]
		if len(g) > len(best) {
			bestHash = hash
			best = g
		}
	}
	if len(best) < a.quorum {
		return
	}

	recomputed := RecomputeStateHash(best[0])
	if recomputed != bestHash {
		a.log.Warnw("recomputed state hash diverges from matching group, dropping consensus attempt", "epoch", epoch, "stateHash", bestHash)
		return
	}

	entry := a.buildEntry(epoch, bestHash, best)
	a.emitted[epoch] = bestHash
	metrics.ConsensusReachedTotal.Inc()
	metrics.LatestConsensusEpoch.Set(float64(epoch))
	a.handler.OnConsensus(entry, best)
}

func (a *Aggregator) buildEntry(epoch int64, stateHash string, matching []ProofPayload) ConsensusEntry {
	var prices []float64
	var sources []SourceQuote
	for _, p := range matching {
		for _, r := range p.Records {
			price, _ := toFloat(r.Payload["price"])
			prices = append(prices, price)
			source, _ := r.Payload["source"].(string)
			sources = append(sources, SourceQuote{Source: source, Price: price})
		}
	}

	participants := a.resolveParticipants(matching)

	var meta EpochMetadata
	for _, p := range matching {
		if p.ConsensusTimestamp != "" {
			meta.ConsensusTimestamp = p.ConsensusTimestamp
		}
		if p.SequenceNumber != nil {
			meta.SequenceNumber = *p.SequenceNumber
		}
		if p.HCSMessage != "" {
			meta.HCSMessage = p.HCSMessage
		}
	}

	entry := ConsensusEntry{
		Epoch:              epoch,
		StateHash:          stateHash,
		Price:              median8(prices),
		Timestamp:          matching[0].Timestamp,
		Participants:       participants,
		Sources:            sources,
		ConsensusTimestamp: meta.ConsensusTimestamp,
		HCSMessage:         meta.HCSMessage,
	}
	if meta.SequenceNumber != 0 {
		sn := meta.SequenceNumber
		entry.SequenceNumber = &sn
	}
	return entry
}

// resolveParticipants walks a fallback chain: bootstrap-provided ids, else
// well-formed proof participants, else each proof's own petalAccountId.
func (a *Aggregator) resolveParticipants(matching []ProofPayload) []string {
	if a.bootstrap != nil {
		if known, ok := a.bootstrap.Participants(); ok {
			return dedupeSortAccountIDs(known)
		}
	}

	var fromProofs []string
	wellFormed := true
	for _, p := range matching {
		for _, id := range p.Participants {
			if !isWellFormedAccountID(id) {
				wellFormed = false
				break
			}
			fromProofs = append(fromProofs, id)
		}
		if !wellFormed {
			break
		}
	}
	if wellFormed && len(fromProofs) > 0 {
		return dedupeSortAccountIDs(fromProofs)
	}

	var fallback []string
	for _, p := range matching {
		fallback = append(fallback, p.PetalAccountID)
	}
	return dedupeSortAccountIDs(fallback)
}

// median8 computes the standard median (odd -> middle, even -> mean of the
// two middles) rounded to 8 decimals.
func median8(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	n := len(sorted)
	var mid float64
	if n%2 == 1 {
		mid = sorted[n/2]
	} else {
		mid = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return round8(mid)
}

func round8(f float64) float64 {
	const factor = 1e8
	return math.Round(f*factor) / factor
}
