package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"microbounty/config"
	"microbounty/core/events"
	"microbounty/core/state"
	"microbounty/core/types"
	"microbounty/native/bounty"
	"microbounty/observability/logging"
	"microbounty/rpc"
	"microbounty/storage"
)

// slogEmitter forwards engine events to the structured logger.
type slogEmitter struct {
	logger *slog.Logger
}

func (e slogEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				args = append(args, k, v)
			}
		}
	}
	e.logger.Info("ledger event", args...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "Use an in-memory database instead of the configured DataDir")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MICROBOUNTY_ENV"))
	logger := logging.Setup("microbountyd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *memory {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	accounts, err := cfg.GenesisAccounts()
	if err != nil {
		logger.Error("invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.ApplyGenesis(accounts); err != nil {
		logger.Error("failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	tokens, err := cfg.TokenAddresses()
	if err != nil {
		logger.Error("invalid token allow-list", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := bounty.NewTokenRegistry(tokens)
	if err != nil {
		logger.Error("failed to build token registry", slog.Any("error", err))
		os.Exit(1)
	}

	engine := bounty.NewEngine(registry)
	engine.SetState(manager)
	engine.SetEmitter(slogEmitter{logger: logger})

	server := rpc.NewServer(engine, manager, logger)

	ops := chi.NewRouter()
	ops.Use(chimw.RealIP)
	ops.Use(chimw.Recoverer)
	ops.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	ops.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("starting ops server", "addr", cfg.ListenAddress)
		if err := http.ListenAndServe(cfg.ListenAddress, ops); err != nil {
			logger.Error("ops server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	logger.Info("node ready",
		"network", cfg.NetworkName,
		"tokens", len(tokens),
		"vault", manager.VaultAddress().Hex(),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
