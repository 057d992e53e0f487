// Command worker runs reply delivery without the HTTP API, for deployments that
// scale senders separately.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/config"
	"github.com/Cypherspark/shopsense/internal/core"
	dbpkg "github.com/Cypherspark/shopsense/internal/db"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
	"github.com/Cypherspark/shopsense/internal/provider"
	wpkg "github.com/Cypherspark/shopsense/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 1
		return
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		exitCode = 1
		return
	}
	defer func() { _ = log.Sync() }()

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, cfg.Database.URL)
	if err != nil {
		log.Error("db pool", zap.Error(err))
		exitCode = 1
		return
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Error("db ping", zap.Error(err))
		exitCode = 1
		return
	}

	store := &core.Store{DB: dbpkg.NewDB(pool)}

	prov := provider.Select(provider.ClientOptions{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		FromNumber: cfg.Provider.FromNumber,
		Timeout:    cfg.Provider.Timeout,
		Logger:     log,
	})

	// ---- Healthz + metrics ----
	metrics.MustRegister()
	health := serveHealthz(cfg.HTTP.HealthAddr, store, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = health.Shutdown(ctx)
	}()

	// ---- Worker ----
	log.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
	if err := wpkg.RunWorker(rootCtx, store, prov, wpkg.OptionsFromConfig(cfg.Worker, log)); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", zap.Error(err))
		exitCode = 1
		return
	}
}

func serveHealthz(addr string, store *core.Store, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("health server", zap.Error(err))
		}
	}()
	return srv
}
