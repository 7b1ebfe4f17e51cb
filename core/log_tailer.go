package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetadataSink receives epoch metadata discovered by the tailer, whether or
// not a ConsensusEntry already exists for that epoch.
type MetadataSink interface {
	ApplyMetadata(epoch int64, meta EpochMetadata)
}

// ProofSink receives legacy petal-published proofs found directly on the
// flora topic: if a message is a structurally valid ProofPayload it is fed
// back into the aggregator as if it had arrived over HTTP.
type ProofSink interface {
	Accept(p ProofPayload)
}

// TailerConfig configures the Tailer's polling and backfill behavior.
type TailerConfig struct {
	FloraStateTopicID string
	PollInterval      time.Duration // default 10s
}

// Tailer polls the flora state topic and backfills consensus metadata.
type Tailer struct {
	cfg      TailerConfig
	mirror   MirrorReader
	proofs   ProofSink
	metadata MetadataSink
	log      *zap.SugaredLogger

	mu            sync.Mutex
	lastTimestamp string
	pendingEpochs []int64 // FIFO of epochs awaiting a message with no explicit epoch field

	cancel context.CancelFunc
}

// NewTailer constructs a Tailer. initialCursor should be the timestamp of
// the newest persisted entry, else the newest topic message, else "0".
func NewTailer(cfg TailerConfig, mirror MirrorReader, proofs ProofSink, metadata MetadataSink, initialCursor string, log *zap.SugaredLogger) *Tailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if initialCursor == "" {
		initialCursor = "0"
	}
	return &Tailer{
		cfg:           cfg,
		mirror:        mirror,
		proofs:        proofs,
		metadata:      metadata,
		log:           log,
		lastTimestamp: initialCursor,
	}
}

// Start begins polling in a background goroutine.
func (t *Tailer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.loop(ctx)
}

// Stop halts polling.
func (t *Tailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tailer) loop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Tailer) poll(ctx context.Context) {
	t.mu.Lock()
	cursor := t.lastTimestamp
	t.mu.Unlock()

	msgs, err := t.mirror.ReadMessages(ctx, t.cfg.FloraStateTopicID, "asc", 100, cursor)
	if err != nil {
		t.log.Warnw("mirror poll failed", "error", err)
		return
	}

	for _, m := range msgs {
		t.handleMessage(m)
	}
}

func (t *Tailer) handleMessage(m LogMessage) {
	t.mu.Lock()
	if m.ConsensusTimestamp <= t.lastTimestamp {
		t.mu.Unlock()
		return // cursor only ever advances
	}
	t.lastTimestamp = m.ConsensusTimestamp
	t.mu.Unlock()

	var probe struct {
		Records *json.RawMessage `json:"records"`
		Epoch   *int64           `json:"epoch"`
	}
	_ = json.Unmarshal(m.Data, &probe)

	if probe.Records != nil {
		var p ProofPayload
		if err := json.Unmarshal(m.Data, &p); err == nil {
			p.ConsensusTimestamp = m.ConsensusTimestamp
			sn := m.SequenceNumber
			p.SequenceNumber = &sn
			t.proofs.Accept(p)
		}
	}

	targetEpoch, ok := t.resolveTargetEpoch(probe.Epoch)
	if !ok {
		return
	}
	t.metadata.ApplyMetadata(targetEpoch, EpochMetadata{
		ConsensusTimestamp: m.ConsensusTimestamp,
		SequenceNumber:     m.SequenceNumber,
		HCSMessage:         "hcs://17/" + t.cfg.FloraStateTopicID,
	})
}

// resolveTargetEpoch derives a targetEpoch from the payload epoch, falling
// back to the oldest pending epoch in a small FIFO.
func (t *Tailer) resolveTargetEpoch(payloadEpoch *int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if payloadEpoch != nil {
		return *payloadEpoch, true
	}
	if len(t.pendingEpochs) == 0 {
		return 0, false
	}
	epoch := t.pendingEpochs[0]
	t.pendingEpochs = t.pendingEpochs[1:]
	return epoch, true
}

// ExpectEpoch registers epoch as awaiting a metadata message with no
// explicit epoch field, consumed FIFO-order by resolveTargetEpoch.
func (t *Tailer) ExpectEpoch(epoch int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingEpochs = append(t.pendingEpochs, epoch)
}
