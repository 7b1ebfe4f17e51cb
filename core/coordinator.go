package core

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// CoordinatorConfig toggles leader publication, which is disabled for a
// petal-only deployment and enabled on the flora-designated consumer.
type CoordinatorConfig struct {
	PublishAsLeader bool
}

// Coordinator owns the in-memory sorted consensus history, persists every
// consolidated entry, enforces the "metadata filled exactly once" rule
// across both the aggregation and the publish path, and drives leader
// publication once a quorum is reached. It implements ConsensusHandler (fed
// by Aggregator), PublishedHandler (fed by LeaderPublisher), and
// MetadataSink (fed by Tailer).
type Coordinator struct {
	cfg       CoordinatorConfig
	store     HistoryStore
	publisher *LeaderPublisher
	intake    *Intake
	log       *zap.SugaredLogger

	mu      sync.RWMutex
	history []ConsensusEntry    // sorted ascending by Epoch
	index   map[int64]int       // epoch -> index into history
	proofs  map[int64][]ProofPayload // epoch -> matching proofs, kept until published
}

// NewCoordinator constructs a Coordinator seeded with previously persisted
// history, which is kept sorted ascending by epoch at all times.
func NewCoordinator(cfg CoordinatorConfig, store HistoryStore, publisher *LeaderPublisher, intake *Intake, seed []ConsensusEntry, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		intake:    intake,
		log:       log,
		index:     make(map[int64]int),
		proofs:    make(map[int64][]ProofPayload),
	}
	c.history = append([]ConsensusEntry(nil), seed...)
	sort.Slice(c.history, func(i, j int) bool { return c.history[i].Epoch < c.history[j].Epoch })
	for i, e := range c.history {
		c.index[e.Epoch] = i
	}
	return c
}

// OnConsensus implements ConsensusHandler: called once Aggregator reaches
// quorum for an epoch.
func (c *Coordinator) OnConsensus(entry ConsensusEntry, proofs []ProofPayload) {
	ctx := context.Background()

	c.mu.Lock()
	c.upsertLocked(entry)
	c.proofs[entry.Epoch] = proofs
	c.mu.Unlock()

	if err := c.store.UpsertConsensusEntry(ctx, entry); err != nil {
		c.log.Errorw("persisting consensus entry failed", "epoch", entry.Epoch, "error", err)
	}

	if c.intake != nil {
		c.intake.DropEpoch(entry.Epoch)
	}

	if c.cfg.PublishAsLeader && c.publisher != nil {
		c.publisher.Publish(ctx, entry, proofs)
	}
}

// OnPublished implements PublishedHandler: called once LeaderPublisher
// successfully submits the consolidated proof, with entry carrying the
// authoritative consensusTimestamp/sequenceNumber/hcsMessage.
func (c *Coordinator) OnPublished(entry ConsensusEntry) {
	ctx := context.Background()

	entry.Published = true
	c.mu.Lock()
	c.upsertLocked(entry)
	delete(c.proofs, entry.Epoch)
	c.mu.Unlock()

	if err := c.store.UpsertConsensusEntry(ctx, entry); err != nil {
		c.log.Errorw("persisting published consensus entry failed", "epoch", entry.Epoch, "error", err)
	}
}

// ApplyMetadata implements MetadataSink: called by the tailer when it finds
// a consensusTimestamp/sequenceNumber/hcsMessage for an epoch on the flora
// topic itself. Already-populated fields on a persisted entry are never
// overwritten.
func (c *Coordinator) ApplyMetadata(epoch int64, meta EpochMetadata) {
	c.mu.Lock()
	idx, ok := c.index[epoch]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry := c.history[idx]
	changed := false
	if entry.ConsensusTimestamp == "" && meta.ConsensusTimestamp != "" {
		entry.ConsensusTimestamp = meta.ConsensusTimestamp
		changed = true
	}
	if entry.SequenceNumber == nil && meta.SequenceNumber != 0 {
		sn := meta.SequenceNumber
		entry.SequenceNumber = &sn
		changed = true
	}
	if entry.HCSMessage == "" && meta.HCSMessage != "" {
		entry.HCSMessage = meta.HCSMessage
		changed = true
	}
	if changed {
		c.history[idx] = entry
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	if err := c.store.UpsertConsensusEntry(context.Background(), entry); err != nil {
		c.log.Errorw("persisting backfilled metadata failed", "epoch", epoch, "error", err)
	}
}

// upsertLocked inserts or replaces entry in the sorted history, maintaining
// c.index. Caller must hold c.mu.
func (c *Coordinator) upsertLocked(entry ConsensusEntry) {
	if idx, ok := c.index[entry.Epoch]; ok {
		c.history[idx] = entry
		return
	}
	pos := sort.Search(len(c.history), func(i int) bool { return c.history[i].Epoch >= entry.Epoch })
	c.history = append(c.history, ConsensusEntry{})
	copy(c.history[pos+1:], c.history[pos:])
	c.history[pos] = entry
	for i := pos; i < len(c.history); i++ {
		c.index[c.history[i].Epoch] = i
	}
}

// Latest returns the most recent consensus entry. When leader publication
// is enabled, it returns the most recent published entry (falling back to
// the most recent aggregated entry only if none has published yet);
// otherwise it returns the most recent aggregated entry.
func (c *Coordinator) Latest() (ConsensusEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return ConsensusEntry{}, false
	}
	if c.cfg.PublishAsLeader {
		for i := len(c.history) - 1; i >= 0; i-- {
			if c.history[i].Published {
				return c.history[i], true
			}
		}
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the full sorted history.
func (c *Coordinator) History() []ConsensusEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ConsensusEntry(nil), c.history...)
}

// HistorySince returns entries with Epoch > sinceEpoch, sorted ascending.
func (c *Coordinator) HistorySince(sinceEpoch int64) []ConsensusEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos := sort.Search(len(c.history), func(i int) bool { return c.history[i].Epoch > sinceEpoch })
	return append([]ConsensusEntry(nil), c.history[pos:]...)
}

// LatestTimestamp returns the consensusTimestamp cursor a Tailer should
// resume from: the newest persisted entry's, if any.
func (c *Coordinator) LatestTimestamp() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ConsensusTimestamp != "" {
			return c.history[i].ConsensusTimestamp
		}
	}
	return ""
}
