// Command routerd runs the liquidity router: it listens for auctions and
// meta-transactions on the messaging fabric, tracks transfers across the
// configured chains and serves the operator surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/admin"
	"github.com/Kuzirashi/nxtp/amm"
	"github.com/Kuzirashi/nxtp/archive"
	"github.com/Kuzirashi/nxtp/auction"
	"github.com/Kuzirashi/nxtp/chains"
	"github.com/Kuzirashi/nxtp/chains/evm/signer"
	"github.com/Kuzirashi/nxtp/chains/evm/txmanager"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/config"
	"github.com/Kuzirashi/nxtp/dispatcher"
	"github.com/Kuzirashi/nxtp/lifecycle"
	"github.com/Kuzirashi/nxtp/messaging"
	"github.com/Kuzirashi/nxtp/metrics"
	"github.com/Kuzirashi/nxtp/oracle"
	"github.com/Kuzirashi/nxtp/subgraph"
)

const (
	exitOK     = 0
	exitConfig = 1
	exitSigner = 2

	// probeTimeout bounds the startup probes against remote services.
	probeTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "routerd: %v\n", err)
		return exitConfig
	}

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routerSigner, err := buildSigner(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Signer is unreachable")
		return exitSigner
	}
	logger.WithField("router", routerSigner.Address()).Info("Router identity loaded")

	registry, err := chains.NewRegistry(ctx, cfg.Chains(), logger)
	if err != nil {
		logger.WithError(err).Error("Chain services failed to initialize")
		return exitConfig
	}
	defer registry.Close()

	records, err := subgraph.New(cfg.Chains(), registry, routerSigner.Address(), logger)
	if err != nil {
		logger.WithError(err).Error("Indexer clients failed to initialize")
		return exitConfig
	}

	fees, err := oracle.NewOracle(registry, cfg.Chains(), cfg.PriceCacheMode, logger)
	if err != nil {
		logger.WithError(err).Error("Price oracle failed to initialize")
		return exitConfig
	}

	impact, err := config.ParsePriceImpact(cfg.MaxPriceImpact)
	if err != nil {
		logger.WithError(err).Error("Invalid price impact bound")
		return exitConfig
	}
	model := amm.NewModel(cfg.Amplification, impact, cfg.AllowedVAMM)

	collectors := metrics.New()

	var store *archive.Archive
	if cfg.DatabaseURL != "" {
		store, err = archive.NewArchive(cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Error("Archive failed to initialize")
			return exitConfig
		}
		schemaCtx, cancelSchema := context.WithTimeout(ctx, probeTimeout)
		err = store.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			logger.WithError(err).Error("Archive schema migration failed")
			return exitConfig
		}
		logger.Info("Transfer archive enabled")
	}

	codec, err := txmanager.NewCodec()
	if err != nil {
		logger.WithError(err).Error("Manager ABI failed to parse")
		return exitConfig
	}

	gracePeriod := time.Duration(cfg.GracePeriodSec) * time.Second

	dispatch := dispatcher.New(registry, cfg.Chains(), routerSigner, fees, collectors, gracePeriod, logger)
	if err := dispatch.Start(ctx); err != nil {
		logger.WithError(err).Error("Dispatcher failed to start")
		return exitConfig
	}

	manager := lifecycle.NewManager(cfg, records, fees, codec, dispatch, store, collectors, logger)
	manager.Start(ctx)

	tracker := subgraph.NewTracker(records, time.Duration(cfg.PollIntervalSec)*time.Second, logger)
	tracker.Subscribe(manager.HandleEvent)
	tracker.Start(ctx)

	evaluator := auction.NewEvaluator(cfg, registry, records, fees, model, routerSigner, collectors, logger)

	relay := messaging.New(cfg, evaluator, manager, routerSigner, logger)
	if err := relay.Start(ctx); err != nil {
		logger.WithError(err).Error("Messaging failed to start")
		tracker.Stop()
		manager.Stop()
		dispatch.Stop()
		return exitConfig
	}

	operator := admin.New(cfg, codec, dispatch, routerSigner, collectors, logger)
	operator.Start()

	logger.WithFields(logrus.Fields{
		"router": routerSigner.Address(),
		"chains": len(cfg.Chains()),
	}).Info("Router is live")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	caught := <-signals
	logger.WithField("signal", caught.String()).Info("Shutting down")

	// Stop intake first so nothing new enters, then drain the pipeline from
	// the outside in. The dispatcher goes last; everything upstream may still
	// be waiting on receipts.
	relay.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), gracePeriod)
	if err := operator.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Admin surface did not stop cleanly")
	}
	cancelShutdown()

	tracker.Stop()
	manager.Stop()
	dispatch.Stop()

	logger.Info("Router stopped")
	return exitOK
}

// buildSigner loads the router identity, locally from the mnemonic or
// remotely through a web3signer service.
func buildSigner(ctx context.Context, cfg *config.Config) (types.Signer, error) {
	if cfg.Web3SignerURL != "" {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		return signer.NewWeb3Signer(probeCtx, cfg.Web3SignerURL)
	}
	return signer.NewSignerFromMnemonic(cfg.Mnemonic)
}

// newLogger builds the process logger. An unknown level falls back to info
// rather than failing startup over a typo.
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	if err != nil {
		logger.WithField("logLevel", level).Warn("Unknown log level, using info")
	}
	return logger
}
