// Command petal runs a single price-oracle petal: it samples its
// configured adapters on a fixed epoch schedule, assembles and hashes a
// proof, optionally publishes a state-topic message, and posts the proof to
// a Consumer.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flora-consensus/cmd/petal/server"
	"flora-consensus/core"
	"flora-consensus/internal/adapters"
	"flora-consensus/internal/ledger"
	"flora-consensus/pkg/cache"
	"flora-consensus/pkg/config"
	"flora-consensus/pkg/store"
	"flora-consensus/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "petal",
		Short: "run a price-oracle petal",
		RunE:  runPetal,
	}
	root.Flags().String("env", "", "environment overlay to merge (e.g. testnet)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPetal(cmd *cobra.Command, args []string) error {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return utils.Wrap(err, "loading config")
	}

	zapLogger, err := buildZapLogger(cfg.Logging.Level)
	if err != nil {
		return utils.Wrap(err, "building logger")
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	keyCache, err := cache.NewAccountKeyCache(256, 0)
	if err != nil {
		return utils.Wrap(err, "building account key cache")
	}
	mirror := ledger.NewMirrorClient(cfg.Ledger.MirrorBaseURL, nil, keyCache)

	bootstrapStore, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return utils.Wrap(err, "opening petal bootstrap store")
	}
	defer bootstrapStore.Close()

	epochOriginMs, err := core.ResolveEpochOrigin(cmd.Context(), bootstrapStore, cfg.Consensus.EpochOriginMS, time.Now().UnixMilli())
	if err != nil {
		return utils.Wrap(err, "resolving epoch origin")
	}

	adapterList := buildAdapters(cfg)

	proofCfg := core.ProofConfig{
		EpochOriginMs:        epochOriginMs,
		BlockTimeMs:          int64(cfg.Consensus.BlockTimeMS),
		ThresholdFingerprint: cfg.Flora.ThresholdFingerprint,
		AdapterFingerprints:  adapterFingerprints(adapterList),
		RegistryTopicID:      cfg.Flora.RegistryTopicID,
		FloraAccountID:       cfg.Flora.AccountID,
		PetalID:              cfg.Petal.ID,
		PetalAccountID:       cfg.Petal.AccountID,
		PetalStateTopicID:    cfg.Petal.StateTopicID,
		Participants:         cfg.Flora.Participants,
	}

	sched := core.NewScheduler(core.SchedulerConfig{
		EpochOriginMs:       epochOriginMs,
		BlockTimeMs:         int64(cfg.Consensus.BlockTimeMS),
		AdapterDeadline:     core.DefaultAdapterDeadline,
		PublishStateTopic:   cfg.Petal.PublishStateTopic,
		PetalStateTopicID:   cfg.Petal.StateTopicID,
		PetalAccountID:      cfg.Petal.AccountID,
		AdapterFingerprints: proofCfg.AdapterFingerprints,
		ProofConfig:         proofCfg,
	}, adapterList, mirror, newConsumerPublisher(consumerBaseURL(cfg)), log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	httpLog := logrus.New()
	httpLog.SetLevel(logLevel(cfg.Logging.Level))
	handler := requestLogger(httpLog)(server.New(cfg.Petal.ID, sched.Status))

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	log.Infow("petal starting", "petalId", cfg.Petal.ID, "addr", addr)

	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.Wrap(err, "serving petal http")
	}
	return nil
}

func consumerBaseURL(cfg *config.Config) string {
	return utils.EnvOrDefault("FLORA_CONSUMER_URL", "http://localhost:8090")
}

func buildAdapters(cfg *config.Config) []core.Adapter {
	// Sample wiring: a single fixed-value adapter (price 0, source "local");
	// a real deployment replaces it with genuine price sources implementing
	// core.Adapter.
	return []core.Adapter{
		adapters.NewFixedAdapter(cfg.Petal.ID+"-primary", "HBAR/USD", 0, "local"),
	}
}

func adapterFingerprints(list []core.Adapter) map[string]string {
	out := make(map[string]string, len(list))
	for _, a := range list {
		out[a.ID()] = a.ID()
	}
	return out
}

func buildZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

func logLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Info("request")
			next.ServeHTTP(w, r)
		})
	}
}
