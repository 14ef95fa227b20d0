package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tokensale/config"
	"tokensale/core/events"
	"tokensale/core/genesis"
	"tokensale/core/runtime"
	"tokensale/indexer"
	"tokensale/native/tokensale"
	"tokensale/observability/logging"
	"tokensale/observability/metrics"
	telemetry "tokensale/observability/otel"
	"tokensale/rpc"
	"tokensale/storage"
	"tokensale/tx"
)

const (
	serviceName    = "tokensaled"
	genesisPathEnv = "TOKENSALE_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a YAML genesis file (overrides TOKENSALE_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	n, err := newNode(ctx, cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv), logger)
	if err != nil {
		logger.Error("Failed to start node", slog.Any("error", err))
		os.Exit(1)
	}
	defer n.Close()

	if err := n.server.Serve(ctx, cfg.RPCAddress); err != nil {
		logger.Error("JSON-RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// resolveGenesisPath prefers the flag, then the environment, then config.
func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if value, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(configValue)
}

// node owns every long-lived component of the daemon.
type node struct {
	db      storage.Database
	rt      *runtime.Runtime
	engine  *tokensale.Engine
	fanout  *events.Fanout
	journal *indexer.Store
	server  *rpc.Server
}

func newNode(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) (_ *node, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	n := &node{db: db}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	n.rt = runtime.New(db, runtime.Config{LamportsPerByte: cfg.Runtime.LamportsPerByte})
	n.rt.SetLogger(logger)

	n.fanout = events.NewFanout(cfg.RPC.EventBuffer)
	n.fanout.SetDropObserver(metrics.Events().RecordDrop)
	n.engine = tokensale.NewEngine(n.rt, tokensale.Config{
		EscrowTag:  cfg.Sale.EscrowTag,
		HoldingTag: cfg.Sale.HoldingTag,
	})
	n.engine.SetLogger(logger)
	n.engine.SetMetrics(metrics.TokenSale())

	var history rpc.HistorySource
	if cfg.Indexer.Enabled {
		if err = os.MkdirAll(filepath.Dir(cfg.IndexerPath()), 0o755); err != nil {
			return nil, err
		}
		n.journal, err = indexer.Open(cfg.IndexerPath())
		if err != nil {
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		// The journal writes before stream subscribers see the event.
		n.engine.SetEmitter(events.Multi{n.journal.Emitter(logger), n.fanout})
		history = n.journal
	} else {
		n.engine.SetEmitter(n.fanout)
	}

	if genesisPath != "" {
		spec, err := genesis.LoadSpec(genesisPath)
		if err != nil {
			return nil, err
		}
		if _, err := genesis.Apply(ctx, n.rt, spec, logger); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
	}
	n.engine.RefreshMetrics()

	replay, err := tx.NewPersistentReplayGuard(db, time.Now())
	if err != nil {
		return nil, fmt.Errorf("load replay digests: %w", err)
	}
	n.server, err = rpc.NewServer(n.rt, n.engine, history, n.fanout, rpc.ServerConfig{
		JWTSecret:         cfg.RPC.JWTSecret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RateLimit:         cfg.RPC.RateLimit,
		Burst:             cfg.RPC.Burst,
		MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
		TrustedProxies:    cfg.RPC.TrustedProxies,
		AllowedOrigins:    cfg.RPC.AllowedOrigins,
		ReadHeaderTimeout: seconds(cfg.RPC.ReadHeaderTimeout),
		ReadTimeout:       seconds(cfg.RPC.ReadTimeout),
		WriteTimeout:      seconds(cfg.RPC.WriteTimeout),
		IdleTimeout:       seconds(cfg.RPC.IdleTimeout),
		Replay:            replay,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("log redaction", slog.Any("allowlist", logging.RedactionAllowlist()))
	if cfg.RPC.JWTSecret == "" {
		logger.Warn("ledger_airdrop disabled: no RPC JWT secret configured")
	} else {
		logger.Info("rpc authentication enabled", logging.MaskField("jwt_secret", cfg.RPC.JWTSecret))
	}
	return n, nil
}

// Close releases the journal and storage.
func (n *node) Close() {
	if n.journal != nil {
		_ = n.journal.Close()
		n.journal = nil
	}
	if n.db != nil {
		n.db.Close()
		n.db = nil
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return storage.NewMemDB(), nil
	}
	path := cfg.StoragePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		db, err := storage.NewBoltDB(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, errors.New("unknown storage backend " + cfg.Storage.Backend)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
