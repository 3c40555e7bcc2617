package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/businessrules/actions"
	"github.com/liamcoop/businessrules/cel"
	"github.com/liamcoop/businessrules/facts"
	"github.com/liamcoop/businessrules/internal/config"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/internal/telemetry"
	"github.com/liamcoop/businessrules/rules"
)

// openStore connects the configured fact backend and returns it with its
// health check, which is nil for the memory backend, and its close function.
func openStore(ctx context.Context, cfg config.Config) (factStore, func(context.Context) error, func() error, error) {
	switch cfg.FactSource {
	case config.FactsPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return facts.NewPostgresSource(db), db.PingContext, db.Close, nil

	case config.FactsRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return facts.NewRedisSource(client, cfg.RedisFactPrefix), ping, client.Close, nil

	default:
		return memoryStore{facts.NewMemorySource()}, nil, func() error { return nil }, nil
	}
}

func engineOptions(cfg config.Config) []rules.EngineOption {
	var opts []rules.EngineOption
	if cfg.FailFast {
		opts = append(opts, rules.WithFailFast())
	}
	if cfg.Concurrency > 0 {
		opts = append(opts, rules.WithConcurrency(cfg.Concurrency))
	}
	if cfg.FirstRuleOnly {
		opts = append(opts, rules.WithFirstRuleOnly())
	}
	return opts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if err := logger.Configure(logger.Options{
		Level:           cfg.LogLevel,
		ErrorSampleRate: cfg.ErrorSampleRate,
		OTELEndpoint:    cfg.OTELLogsEndpoint,
		ServiceName:     cfg.OTELServiceName,
	}); err != nil {
		logger.Warn("logger configuration problem", "error", err)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTELEndpoint, cfg.OTELServiceName)
	if err != nil {
		logger.Fatal("failed to set up tracing", "error", err)
	}

	store, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open fact source", "source", cfg.FactSource, "error", err)
	}
	defer closeStore()

	var scripts []*actions.LuaAction
	if cfg.ActionScriptsDir != "" {
		scripts, err = actions.LoadDir(cfg.ActionScriptsDir)
		if err != nil {
			logger.Fatal("failed to load action scripts", "dir", cfg.ActionScriptsDir, "error", err)
		}
	}

	evaluator, err := cel.New()
	if err != nil {
		logger.Fatal("failed to create expression evaluator", "error", err)
	}

	server := NewServer(ServerOptions{
		Store:        store,
		Backend:      cfg.FactSource,
		Ping:         ping,
		Scripts:      scripts,
		Evaluator:    evaluator,
		EngineOpts:   engineOptions(cfg),
		AllowNonBool: cfg.AllowNonBool,
		Timeout:      cfg.RequestTimeout,
		Logger:       logger.Logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"facts", cfg.FactSource,
			"scripts", len(scripts),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("server stopped")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "log exporter shutdown error: %v\n", err)
	}
}
