package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentescrow/config"
	"rentescrow/core/events"
	corestate "rentescrow/core/state"
	"rentescrow/crypto"
	"rentescrow/native/bank"
	"rentescrow/native/escrow"
	"rentescrow/observability/logging"
	"rentescrow/observability/metrics"
	telemetry "rentescrow/observability/otel"
	"rentescrow/storage"
)

var (
	newInvocationID = func() string { return uuid.NewString() }
	pushMetrics     = metrics.Push
)

// node is the fully wired engine stack for one command invocation.
type node struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	db     storage.Database
	state  *corestate.Manager
	log    *events.Log
	bank   *bank.Bank
	engine *escrow.Engine
}

func withNode(configPath, command string, stderr io.Writer, fn func(*node) int) int {
	ctx := context.Background()
	cfg, err := config.Load(configPath)
	if err != nil {
		return printError(stderr, fmt.Sprintf("load config: %v", err))
	}

	logger, closeLog, err := logging.Setup(config.DefaultServiceName, logging.Options{
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Output:     stderr,
	})
	if err != nil {
		return printError(stderr, fmt.Sprintf("setup logging: %v", err))
	}
	defer closeLog()
	logger = logger.With(slog.String("invocation", newInvocationID()), slog.String("operation", command))

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: config.DefaultServiceName,
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.MergeHeaders(cfg.Telemetry.Headers, os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return printError(stderr, fmt.Sprintf("init telemetry: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	n, err := openNode(ctx, cfg, logger)
	if err != nil {
		return printError(stderr, err.Error())
	}
	defer func() {
		if err := n.db.Close(); err != nil {
			logger.Warn("close state database", slog.Any("error", err))
		}
	}()

	code := fn(n)
	if cfg.Metrics.PushURL != "" {
		grouping := map[string]string{"command": command}
		if err := pushMetrics(ctx, cfg.Metrics.PushURL, cfg.Metrics.Job, grouping); err != nil {
			logger.Warn("metrics push failed", slog.Any("error", err))
		}
	}
	return code
}

func openNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	manager := corestate.NewManager(db)
	notifications, err := events.NewLog(manager)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open notification log: %w", err)
	}
	escrowMetrics := metrics.Escrow()
	notifications.SetDropHandler(escrowMetrics.IncDroppedNotification)
	notifications.SetErrorHandler(func(err error) {
		logger.Error("notification not persisted", slog.Any("error", err))
	})

	book := bank.NewBank(manager, cfg.Asset)
	book.SetEmitter(notifications)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(book)
	engine.SetEmitter(notifications)
	engine.SetLogger(logger)
	engine.SetMetrics(escrowMetrics)
	if strings.TrimSpace(cfg.Vault) != "" {
		vault, err := crypto.ParseAddress(cfg.Vault)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("vault address: %w", err)
		}
		engine.SetVault(vault.Raw())
	}

	return &node{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,
		db:     db,
		state:  manager,
		log:    notifications,
		bank:   book,
		engine: engine,
	}, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.bolt"), nil)
	default:
		return storage.NewLevelDB(cfg.DataDir)
	}
}

// genesis builds the engine genesis from the configuration. The owner is
// mandatory here even though the config file may omit it.
func genesis(cfg *config.Config) (escrow.Genesis, error) {
	var g escrow.Genesis
	if strings.TrimSpace(cfg.Owner) == "" {
		return g, fmt.Errorf("Owner must be set in the config before init")
	}
	roles := []struct {
		value string
		dst   *[20]byte
	}{
		{cfg.Owner, &g.Owner},
		{cfg.Marketplace, &g.Marketplace},
		{cfg.DisputeAuthority, &g.DisputeAuthority},
	}
	for _, r := range roles {
		if strings.TrimSpace(r.value) == "" {
			continue
		}
		addr, err := crypto.ParseAddress(r.value)
		if err != nil {
			return g, err
		}
		*r.dst = addr.Raw()
	}
	var err error
	if g.ProtectionFee, err = config.ParseAmount(cfg.ProtectionFee); err != nil {
		return g, fmt.Errorf("ProtectionFee: %w", err)
	}
	if g.CommissionFee, err = config.ParseAmount(cfg.CommissionFee); err != nil {
		return g, fmt.Errorf("CommissionFee: %w", err)
	}
	g.Paused = cfg.Paused
	return g, nil
}

type allocation struct {
	to     [20]byte
	amount *big.Int
}

func allocations(cfg *config.Config) ([]allocation, error) {
	out := make([]allocation, 0, len(cfg.Allocations))
	for i, alloc := range cfg.Allocations {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("Allocations[%d]: %w", i, err)
		}
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("Allocations[%d]: %w", i, err)
		}
		out = append(out, allocation{to: addr.Raw(), amount: amount})
	}
	return out, nil
}
