package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"flora-consensus/pkg/metrics"
)

// ProofPublisher delivers a freshly built ProofPayload to the Consumer by
// POSTing the ProofPayload JSON to its /proof endpoint. The concrete HTTP
// implementation lives outside core.
type ProofPublisher interface {
	PublishProof(ctx context.Context, proof ProofPayload) error
}

// SchedulerConfig configures one petal's epoch loop.
type SchedulerConfig struct {
	EpochOriginMs       int64
	BlockTimeMs         int64
	AdapterDeadline     time.Duration
	PublishStateTopic   bool
	PetalStateTopicID   string
	PetalAccountID      string
	AdapterFingerprints map[string]string
	ProofConfig         ProofConfig
}

// Scheduler drives a single petal's epoch loop on a monotonic timer.
type Scheduler struct {
	cfg       SchedulerConfig
	adapters  []Adapter
	ledger    LedgerClient
	publisher ProofPublisher
	log       *zap.SugaredLogger

	mu         sync.Mutex
	lastEpoch  int64
	started    bool
	cancel     context.CancelFunc
	nowFn      func() time.Time
}

// NewScheduler constructs a Scheduler. ledger may be nil if
// PublishStateTopic is false.
func NewScheduler(cfg SchedulerConfig, adapters []Adapter, ledger LedgerClient, publisher ProofPublisher, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		adapters:  adapters,
		ledger:    ledger,
		publisher: publisher,
		log:       log,
		lastEpoch: -1,
		nowFn:     time.Now,
	}
}

// Start begins the timer loop in a background goroutine. Stop cancels it;
// in-flight HTTP/log submissions are abandoned, not awaited.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop cancels the scheduler's timer loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
}

// Status reports whether the loop is running and the last epoch handled, for
// use by an operational health endpoint.
func (s *Scheduler) Status() (running bool, lastEpoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.lastEpoch
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.BlockTimeMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one iteration of the epoch loop: compute the epoch, skip if
// already handled, otherwise run adapters, build the proof, and publish.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.nowFn()
	epoch := floorDiv(now.UnixMilli()-s.cfg.EpochOriginMs, s.cfg.BlockTimeMs)

	s.mu.Lock()
	if epoch <= s.lastEpoch {
		s.mu.Unlock()
		return
	}
	s.lastEpoch = epoch
	s.mu.Unlock()

	records, failures := RunAdapters(ctx, s.adapters, s.cfg.AdapterDeadline)
	if len(failures) > 0 {
		metrics.EpochsSkippedTotal.Inc()
		for _, f := range failures {
			s.log.Warnw("adapter failed, skipping epoch", "epoch", epoch, "adapter", f.AdapterID, "error", f.Err)
		}
		return
	}

	proof := BuildProof(epoch, records, s.cfg.ProofConfig)

	if s.cfg.PublishStateTopic && s.ledger != nil {
		go s.publishStateTopic(ctx, proof)
	}

	if err := s.publisher.PublishProof(ctx, proof); err != nil {
		s.log.Warnw("publish proof to consumer failed", "epoch", epoch, "error", err)
	}
}

// publishStateTopic is fire-and-forget: failure is logged but never blocks
// the Consumer POST.
func (s *Scheduler) publishStateTopic(ctx context.Context, proof ProofPayload) {
	epoch := proof.Epoch
	msg := StateMessage{
		P:         "hcs-17",
		Op:        "state_hash",
		StateHash: proof.StateHash,
		Topics:    []string{proof.PetalStateTopicID},
		AccountID: proof.PetalAccountID,
		M:         hcs17Marker(epoch),
		Epoch:     &epoch,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Warnw("marshal state message failed", "epoch", epoch, "error", err)
		return
	}
	if _, _, err := s.ledger.SubmitMessage(ctx, proof.PetalStateTopicID, proof.PetalAccountID, data); err != nil {
		s.log.Warnw("submit petal state topic message failed", "epoch", epoch, "error", err)
	}
}

func hcs17Marker(epoch int64) string {
	return "hcs17:" + itoa(epoch)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
