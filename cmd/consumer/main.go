// Command consumer runs the flora consumer: it ingests petal proofs,
// aggregates them into consensus entries once a quorum agrees, elects a
// rotating leader to publish the consolidated proof, tails the flora state
// topic to backfill metadata, and serves price history over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flora-consensus/cmd/consumer/server"
	"flora-consensus/core"
	"flora-consensus/internal/ledger"
	"flora-consensus/pkg/cache"
	"flora-consensus/pkg/config"
	"flora-consensus/pkg/crypto"
	"flora-consensus/pkg/store"
	"flora-consensus/pkg/utils"
)

const operatorKeySecretName = "ledgerOperatorKey"

// bootstrapOperatorKeySecret persists the configured ledger operator key
// wrapped under an AEAD box on first boot, so restarts read the encrypted
// copy from the history store rather than re-trusting plaintext
// configuration each time. A missing PETAL_KEY_SECRET with a configured
// operator key is a fatal config error.
func bootstrapOperatorKeySecret(ctx context.Context, historyStore *store.SQLiteStore, cfg *config.Config) error {
	if cfg.Ledger.OperatorKey == "" {
		return nil
	}
	if _, ok, err := historyStore.GetSecret(ctx, operatorKeySecretName); err != nil {
		return err
	} else if ok {
		return nil // already bootstrapped on a previous run
	}
	if cfg.Petal.KeySecret == "" {
		return fmt.Errorf("%w: PETAL_KEY_SECRET required to wrap the configured ledger operator key", core.ErrFatalConfig)
	}
	box, err := crypto.NewBox([]byte(cfg.Petal.KeySecret))
	if err != nil {
		return err
	}
	wrapped, err := box.Wrap([]byte(cfg.Ledger.OperatorKey))
	if err != nil {
		return err
	}
	return historyStore.PutSecret(ctx, operatorKeySecretName, []byte(wrapped))
}

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "consumer",
		Short: "run the flora proof consumer",
		RunE:  runConsumer,
	}
	root.Flags().String("env", "", "environment overlay to merge (e.g. testnet)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConsumer(cmd *cobra.Command, args []string) error {
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

	historyStore, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return utils.Wrap(err, "opening history store")
	}
	defer historyStore.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seed, err := historyStore.LoadHistory(ctx)
	if err != nil {
		return utils.Wrap(err, "loading persisted history")
	}

	if err := bootstrapOperatorKeySecret(ctx, historyStore, cfg); err != nil {
		return utils.Wrap(err, "bootstrapping operator key secret")
	}

	bootstrap := ledger.NewStaticBootstrap(nil, cfg.Flora.Participants)

	intake := core.NewIntake(core.IntakeConfig{
		FloraAccountID:       cfg.Flora.AccountID,
		ThresholdFingerprint: cfg.Flora.ThresholdFingerprint,
		RegistryTopicID:      cfg.Flora.RegistryTopicID,
		ExpectedPetals:       cfg.Consensus.ExpectedPetals,
	}, bootstrap)

	keyCache, err := cache.NewAccountKeyCache(256, 0)
	if err != nil {
		return utils.Wrap(err, "building account key cache")
	}
	mirror := ledger.NewMirrorClient(cfg.Ledger.MirrorBaseURL, nil, keyCache)

	publisher := core.NewLeaderPublisher(core.LeaderPublisherConfig{
		FloraAccountID:       cfg.Flora.AccountID,
		FloraStateTopicID:    cfg.Flora.StateTopicID,
		CoordinationTopicID:  cfg.Flora.CoordinationTopicID,
		TransactionTopicID:   cfg.Flora.TransactionTopicID,
		CategoryTopicID:      cfg.Flora.CategoryTopicID,
		DiscoveryTopicIDs:    cfg.Flora.DiscoveryTopicIDs,
		ThresholdFingerprint: cfg.Flora.ThresholdFingerprint,
	}, mirror, mirror, nil, log) // handler attached after coordinator construction

	coordinator := core.NewCoordinator(core.CoordinatorConfig{
		PublishAsLeader: cfg.Consensus.PublishAsLeader,
	}, historyStore, publisher, intake, seed, log)

	// LeaderPublisher.handler and Coordinator reference each other; wire the
	// publisher's handler now that the coordinator exists.
	rewirePublisherHandler(publisher, coordinator)

	aggregator := core.NewAggregator(cfg.Consensus.Quorum, bootstrap, coordinator, log)

	tailer := core.NewTailer(core.TailerConfig{
		FloraStateTopicID: cfg.Flora.StateTopicID,
		PollInterval:      cfg.PollInterval(),
	}, mirror, aggregator, coordinator, coordinator.LatestTimestamp(), log)
	tailer.Start(ctx)
	defer tailer.Stop()

	httpLog := logrus.New()
	httpLog.SetLevel(logLevel(cfg.Logging.Level))

	handler := server.NewRouter(server.Deps{
		Intake:          intake,
		Aggregator:      aggregator,
		Coordinator:     coordinator,
		Ledger:          mirror,
		Log:             httpLog,
		Network:         cfg.Ledger.Network,
		FloraAccountID:  cfg.Flora.AccountID,
		RegistryTopicID: cfg.Flora.RegistryTopicID,
		FloraStateTopic: cfg.Flora.StateTopicID,
	}, server.RouterConfig{
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	log.Infow("consumer starting", "addr", addr)

	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.Wrap(err, "serving consumer http")
	}
	return nil
}

// rewirePublisherHandler breaks the LeaderPublisher/Coordinator
// construction cycle: the publisher is built first with a nil handler, then
// pointed at the coordinator once it exists.
func rewirePublisherHandler(publisher *core.LeaderPublisher, coordinator *core.Coordinator) {
	publisher.SetHandler(coordinator)
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
