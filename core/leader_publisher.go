package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"flora-consensus/pkg/metrics"
)

// LeaderPublisherConfig configures leader election and proof publication.
type LeaderPublisherConfig struct {
	FloraAccountID       string
	FloraStateTopicID    string
	CoordinationTopicID  string
	TransactionTopicID   string
	CategoryTopicID      string
	DiscoveryTopicIDs    []string
	ThresholdFingerprint string

	StateTopicValidationAttempts int           // default 6
	StateTopicValidationDelay    time.Duration // default 2s
	RetryBaseDelay               time.Duration // default 5s
	RetryMaxDelay                time.Duration // default 120s
}

func (c *LeaderPublisherConfig) setDefaults() {
	if c.StateTopicValidationAttempts <= 0 {
		c.StateTopicValidationAttempts = 6
	}
	if c.StateTopicValidationDelay <= 0 {
		c.StateTopicValidationDelay = 2 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 120 * time.Second
	}
}

// PublishedHandler is notified when a consolidated proof is successfully
// published, with the entry stamped with its publication sequence number.
type PublishedHandler interface {
	OnPublished(entry ConsensusEntry)
}

// LeaderPublisher performs deterministic leader election, petal
// state-topic validation, and publication of the consolidated proof with
// retry.
type LeaderPublisher struct {
	cfg     LeaderPublisherConfig
	ledger  LedgerClient
	mirror  MirrorReader
	handler PublishedHandler
	log     *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[int64]string // epoch -> stateHash currently being (re)published
	attempts map[int64]int    // epoch -> retry attempt count
}

// NewLeaderPublisher constructs a LeaderPublisher.
func NewLeaderPublisher(cfg LeaderPublisherConfig, ledger LedgerClient, mirror MirrorReader, handler PublishedHandler, log *zap.SugaredLogger) *LeaderPublisher {
	cfg.setDefaults()
	return &LeaderPublisher{
		cfg:      cfg,
		ledger:   ledger,
		mirror:   mirror,
		handler:  handler,
		log:      log,
		inFlight: make(map[int64]string),
		attempts: make(map[int64]int),
	}
}

// SetHandler attaches the PublishedHandler after construction, breaking the
// construction cycle between a LeaderPublisher and the Coordinator that
// normally owns it (Coordinator.NewCoordinator takes the publisher as an
// argument, so the publisher cannot yet know its own handler).
func (lp *LeaderPublisher) SetHandler(handler PublishedHandler) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.handler = handler
}

// Leader computes the rotating leader for an epoch: P[|e| mod len(P)] for
// sorted participants P.
func Leader(participants []string, epoch int64) (string, error) {
	if len(participants) == 0 {
		return "", fmt.Errorf("no participants to elect a leader from")
	}
	idx := absInt64(epoch) % int64(len(participants))
	return participants[idx], nil
}

// Publish attempts to publish the consolidated proof for entry. Re-entrant
// calls for the same (epoch, stateHash) are coalesced; at most one
// publication is in flight per epoch, so a call for an epoch whose
// publication is still in flight is ignored whatever its stateHash.
func (lp *LeaderPublisher) Publish(ctx context.Context, entry ConsensusEntry, proofs []ProofPayload) {
	lp.mu.Lock()
	if _, ok := lp.inFlight[entry.Epoch]; ok {
		lp.mu.Unlock()
		return // a publication for this epoch is already in flight
	}
	lp.inFlight[entry.Epoch] = entry.StateHash
	lp.mu.Unlock()

	go lp.publishLoop(ctx, entry, proofs)
}

func (lp *LeaderPublisher) publishLoop(ctx context.Context, entry ConsensusEntry, proofs []ProofPayload) {
	defer func() {
		lp.mu.Lock()
		delete(lp.inFlight, entry.Epoch)
		delete(lp.attempts, entry.Epoch)
		lp.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := lp.publishOnce(ctx, entry, proofs); err != nil {
			metrics.PublishAttemptsTotal.WithLabelValues("failure").Inc()
			lp.log.Warnw("leader publish failed, will retry", "epoch", entry.Epoch, "error", err)
			lp.mu.Lock()
			lp.attempts[entry.Epoch]++
			attempt := lp.attempts[entry.Epoch]
			lp.mu.Unlock()
			delay := lp.backoff(attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		metrics.PublishAttemptsTotal.WithLabelValues("success").Inc()
		return
	}
}

func (lp *LeaderPublisher) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * lp.cfg.RetryBaseDelay
	if d > lp.cfg.RetryMaxDelay {
		d = lp.cfg.RetryMaxDelay
	}
	return d
}

func (lp *LeaderPublisher) publishOnce(ctx context.Context, entry ConsensusEntry, proofs []ProofPayload) error {
	leader, err := Leader(entry.Participants, entry.Epoch)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if err := lp.validatePetalStateTopic(ctx, p); err != nil {
			return fmt.Errorf("validating petal %s state topic: %w", p.PetalID, err)
		}
	}

	msg := lp.buildConsolidatedMessage(entry)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	consensusTS, seq, err := lp.ledger.SubmitMessage(ctx, lp.cfg.FloraStateTopicID, leader, data)
	if err != nil {
		return err
	}

	entry.ConsensusTimestamp = consensusTS
	entry.SequenceNumber = &seq
	entry.HCSMessage = fmt.Sprintf("hcs://17/%s", lp.cfg.FloraStateTopicID)
	lp.handler.OnPublished(entry)
	return nil
}

// validatePetalStateTopic tails the petal's own state topic and confirms
// it carries a matching hcs-17 state_hash message, retrying a bounded
// number of times.
func (lp *LeaderPublisher) validatePetalStateTopic(ctx context.Context, p ProofPayload) error {
	var lastErr error
	for attempt := 1; attempt <= lp.cfg.StateTopicValidationAttempts; attempt++ {
		msgs, err := lp.mirror.ReadMessages(ctx, p.PetalStateTopicID, "desc", 10, "")
		if err != nil {
			lastErr = err
		} else {
			for _, m := range msgs {
				var sm StateMessage
				if err := json.Unmarshal(m.Data, &sm); err != nil {
					continue
				}
				if isValidPetalPublication(sm, p) {
					return nil
				}
			}
			lastErr = fmt.Errorf("no matching state_hash publication found on %s", p.PetalStateTopicID)
		}
		if attempt < lp.cfg.StateTopicValidationAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(lp.cfg.StateTopicValidationDelay):
			}
		}
	}
	return lastErr
}

func isValidPetalPublication(sm StateMessage, p ProofPayload) bool {
	if sm.P != "hcs-17" || sm.Op != "state_hash" {
		return false
	}
	if sm.StateHash != p.StateHash || sm.AccountID != p.PetalAccountID {
		return false
	}
	if sm.Epoch != nil && *sm.Epoch == p.Epoch {
		return true
	}
	return sm.M == hcs17Marker(p.Epoch)
}

func (lp *LeaderPublisher) buildConsolidatedMessage(entry ConsensusEntry) StateMessage {
	topics := append([]string{lp.cfg.FloraStateTopicID, lp.cfg.CoordinationTopicID, lp.cfg.TransactionTopicID, lp.cfg.CategoryTopicID}, lp.cfg.DiscoveryTopicIDs...)
	epoch := entry.Epoch
	price := entry.Price
	return StateMessage{
		P:                    "hcs-17",
		Op:                   "state_hash",
		M:                    hcs17Marker(entry.Epoch),
		AccountID:            lp.cfg.FloraAccountID,
		StateHash:            entry.StateHash,
		Topics:               topics,
		Epoch:                &epoch,
		Price:                &price,
		ThresholdFingerprint: lp.cfg.ThresholdFingerprint,
		Participants:         entry.Participants,
	}
}
