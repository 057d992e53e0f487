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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Cypherspark/shopsense/internal/calendar"
	"github.com/Cypherspark/shopsense/internal/config"
	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/db"
	httpapi "github.com/Cypherspark/shopsense/internal/http"
	"github.com/Cypherspark/shopsense/internal/kv"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
	"github.com/Cypherspark/shopsense/internal/provider"
	"github.com/Cypherspark/shopsense/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default ./config.yaml if present)")
	flag.Parse()

	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "shopsense api: %v\n", err)
		exitCode = 1
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// ---- Context / signals ----
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- DB ----
	if cfg.Database.Migrate {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return err
		}
	}
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	store := &core.Store{DB: db.NewDB(pool)}

	metrics.MustRegister()
	poolStats := metrics.NewPGXPoolStats(pool, prometheus.DefaultRegisterer)

	// ---- Calendar ----
	kvStore, err := kv.Open(cfg.Calendar.StorePath)
	if err != nil {
		return err
	}
	defer kvStore.Close()
	cal := calendar.NewStub(kvStore,
		calendar.WithLocation(cfg.Calendar.Location()),
		calendar.WithLogger(log),
	)
	if err := cal.Init(ctx); err != nil {
		return err
	}

	// ---- Provider ----
	prov := provider.Select(provider.ClientOptions{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		FromNumber: cfg.Provider.FromNumber,
		Timeout:    cfg.Provider.Timeout,
		Logger:     log,
	})
	if _, ok := prov.(*provider.Dummy); ok {
		log.Warn("no provider API key configured, using the dummy provider")
	}

	// ---- HTTP server ----
	srv := httpapi.NewServer(store, cal, log)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// ---- Workers ----
	g.Go(func() error {
		err := worker.RunWorker(gctx, store, prov, worker.OptionsFromConfig(cfg.Worker, log))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Inbound.Enabled {
		g.Go(func() error {
			sched, err := worker.StartInboundPoller(gctx, &worker.InboundPoller{
				Store:    store,
				Provider: prov,
				Limit:    cfg.Inbound.Limit,
				Logger:   log,
			}, cfg.Inbound.Interval)
			if err != nil {
				return err
			}
			<-gctx.Done()
			return sched.Shutdown()
		})
	}
	g.Go(func() error {
		poolStats.Start(15*time.Second, gctx.Done())
		return nil
	})

	err = g.Wait()
	log.Info("shut down", zap.Error(err))
	return err
}
