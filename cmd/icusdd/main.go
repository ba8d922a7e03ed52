// Command icusdd is the protocol's daemon process: it opens the event
// log, replays it to rebuild state, then serves the scheduled background
// work a live deployment needs (price refresh, liquidation sweeps,
// pending-transfer retries) until signalled to stop. It exposes no RPC
// surface of its own; operators drive it through icusdctl against the
// same data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"icusdprotocol/config"
	"icusdprotocol/core/eventlog"
	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/numeric"
	"icusdprotocol/observability/logging"
	telemetry "icusdprotocol/observability/otel"
	"icusdprotocol/priceoracle"
	"icusdprotocol/protocol"
	"icusdprotocol/types"
)

const (
	envPrefix        = "ICUSD_"
	envEnvironment   = envPrefix + "ENV"
	envOtelEndpoint  = envPrefix + "OTEL_ENDPOINT"
	envOtelInsecure  = envPrefix + "OTEL_INSECURE"
	envStaticPriceE8 = envPrefix + "STATIC_PRICE_E8S" // dev-mode price override, absent a real oracle canister
	envLogFile       = envPrefix + "LOG_FILE"         // optional rotated log file, in addition to stdout
)

func main() {
	configFile := flag.String("config", "./icusdd.toml", "Path to the daemon's configuration file")
	liquidationInterval := flag.Duration("liquidation-interval", 30*time.Second, "How often to scan for and liquidate underwater vaults")
	priceRefreshInterval := flag.Duration("price-refresh-interval", 60*time.Second, "How often to refresh the cached ICP/USD price")
	transferRetryInterval := flag.Duration("transfer-retry-interval", 15*time.Second, "How often to re-drive outbound transfers the ledger has not confirmed")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnvironment))
	logger := logging.SetupWithRotation("icusdd", env, logging.RotationConfig{
		Path: strings.TrimSpace(os.Getenv(envLogFile)),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "icusdd",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv(envOtelEndpoint)),
		Insecure:    os.Getenv(envOtelInsecure) == "1",
		Traces:      strings.TrimSpace(os.Getenv(envOtelEndpoint)) != "",
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown reported an error", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open data directory", slog.String("path", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	log, err := eventlog.Open(db)
	if err != nil {
		logger.Error("failed to open event log", slog.Any("error", err))
		os.Exit(1)
	}

	accounts, needsPersist := resolveAccounts(cfg)
	if needsPersist {
		if err := config.Save(*configFile, cfg); err != nil {
			logger.Warn("failed to persist generated well-known accounts", slog.Any("error", err))
		}
	}

	// No ledger or oracle canister client is wired here: both sit behind
	// the external collaborator interfaces.
	// A real deployment supplies its own icUSD/ICP ledger clients and an
	// XRC-backed Oracle; icusdd's own bundled implementation is the
	// in-memory one used by tests, matching a local/dev deployment.
	icusdLedger := ledger.NewMemLedger()
	collateralLedger := ledger.NewMemLedger()
	oracle := staticOracleFromEnv()

	proto, err := protocol.New(cfg, log, icusdLedger, collateralLedger, oracle, accounts, logger)
	if err != nil {
		logger.Error("failed to construct protocol", slog.Any("error", err))
		os.Exit(1)
	}

	if log.Len() == 0 {
		if err := proto.Init(ctx, time.Now()); err != nil {
			logger.Error("failed to initialise protocol", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("protocol initialised")
	} else {
		if err := proto.Restore(ctx); err != nil {
			logger.Error("failed to replay event log", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("protocol restored from event log", slog.Uint64("records", log.Len()))
	}

	if err := proto.Prices().Refresh(ctx); err != nil {
		logger.Warn("initial price refresh failed", slog.Any("error", err))
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go runPriceRefresh(ctx, &wg, proto, logger, *priceRefreshInterval)
	go runLiquidationSweep(ctx, &wg, proto, logger, *liquidationInterval)
	go runTransferRetry(ctx, &wg, proto, logger, *transferRetryInterval)

	logger.Info("icusdd running", slog.String("data_dir", cfg.DataDir))
	<-ctx.Done()
	logger.Info("shutdown signal received, draining background work")
	wg.Wait()
}

// resolveAccounts parses the protocol/developer fee accounts from cfg,
// generating deterministic well-known principals on first run the way
// config.Load auto-generates the rest of the default parameter set.
func resolveAccounts(cfg *config.Config) (protocol.Accounts, bool) {
	var persisted bool

	protocolAccount, err := types.ParseAccount(cfg.ProtocolAccount)
	if err != nil {
		protocolAccount = wellKnownAccount(0x01)
		cfg.ProtocolAccount = protocolAccount.String()
		persisted = true
	}

	developerAccount, err := types.ParseAccount(cfg.DeveloperFeeAccount)
	if err != nil {
		developerAccount = wellKnownAccount(0x02)
		cfg.DeveloperFeeAccount = developerAccount.String()
		persisted = true
	}

	return protocol.Accounts{Protocol: protocolAccount, Developer: developerAccount}, persisted
}

func wellKnownAccount(discriminator byte) types.Account {
	var principal [32]byte
	principal[0] = discriminator
	return types.NewAccount(principal)
}

// staticOracleFromEnv builds a fixed-price Oracle from an environment
// override, for local/dev runs that have no XRC-backed oracle canister to
// poll. A production deployment replaces this with a real Oracle
// implementation wired to the inter-canister call.
func staticOracleFromEnv() priceoracle.Oracle {
	raw := strings.TrimSpace(os.Getenv(envStaticPriceE8))
	var priceE8s uint64
	if raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &priceE8s); err != nil {
			priceE8s = 0
		}
	}
	if priceE8s == 0 {
		priceE8s = 10 * 1_0000_0000 // $10/ICP fallback so a fresh dev deployment is usable out of the box
	}
	return priceoracle.StaticOracle{Price: numeric.PriceFromE8s(priceE8s), ObservedAt: time.Now()}
}

func runPriceRefresh(ctx context.Context, wg *sync.WaitGroup, proto *protocol.Protocol, logger *slog.Logger, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := proto.Prices().Refresh(ctx); err != nil {
				logger.Warn("price refresh failed", slog.Any("error", err))
			}
		}
	}
}

func runTransferRetry(ctx context.Context, wg *sync.WaitGroup, proto *protocol.Protocol, logger *slog.Logger, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := proto.PendingTransfers().ProcessPending(ctx); err != nil {
				logger.Warn("pending transfer retry failed", slog.Any("error", err))
			}
		}
	}
}

func runLiquidationSweep(ctx context.Context, wg *sync.WaitGroup, proto *protocol.Protocol, logger *slog.Logger, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := proto.LiquidatableVaults(ctx)
			if err != nil {
				logger.Warn("liquidation scan failed", slog.Any("error", err))
				continue
			}
			for _, vaultID := range candidates {
				if err := proto.LiquidateVault(ctx, vaultID); err != nil {
					logger.Warn("liquidation failed", slog.Uint64("vault_id", vaultID), slog.Any("error", err))
				}
			}
		}
	}
}
