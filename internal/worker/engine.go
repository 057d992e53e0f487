package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Cypherspark/shopsense/internal/config"
	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
	"github.com/Cypherspark/shopsense/internal/provider"
)

// ReplyStore is the part of core.Store the delivery engine needs.
type ReplyStore interface {
	ClaimQueuedReplies(ctx context.Context, limit int) ([]string, error)
	LoadReplyForSend(ctx context.Context, id string) (core.PendingReply, error)
	MarkSent(ctx context.Context, id, providerID string) error
	MarkFailedWithRetry(ctx context.Context, id string, retryIn time.Duration) error
	MarkFailedPermanent(ctx context.Context, id string) error
	ReleaseClaim(ctx context.Context, id string) error
}

type WorkerOptions struct {
	BatchSize     int           // how many to claim per poll
	Concurrency   int           // number of sender goroutines
	PollInterval  time.Duration // how often to poll when work is found
	IdleSleep     time.Duration // sleep when queue empty
	DBBackoffMin  time.Duration
	DBBackoffMax  time.Duration
	ProviderQPS   float64 // sustained provider rate
	ProviderBurst int     // burst to allow short spikes
	SendTimeout   time.Duration
	RetryDelay    time.Duration // first retry delay; grows linearly with attempts
	MaxAttempts   int
	Logger        *zap.Logger
}

// RunWorker delivers queued replies until ctx is done.
func RunWorker(ctx context.Context, store ReplyStore, prov provider.Provider, opt WorkerOptions) error {
	log := logging.OrNop(opt.Logger).Named("worker")
	limiter := rate.NewLimiter(rate.Limit(opt.ProviderQPS), opt.ProviderBurst)

	jobs := make(chan string, opt.BatchSize*2)
	var wg sync.WaitGroup
	wg.Add(opt.Concurrency)
	for i := 0; i < opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				if ctx.Err() != nil {
					release(ctx, store, id, log)
					continue
				}
				sendOne(ctx, store, prov, limiter, id, opt, log)
			}
		}()
	}
	stop := func() error {
		close(jobs)
		wg.Wait()
		return ctx.Err()
	}

	log.Info("delivery worker started", zap.Int("concurrency", opt.Concurrency), zap.Float64("qps", opt.ProviderQPS))
	dbBackoff := opt.DBBackoffMin
	for {
		if ctx.Err() != nil {
			return stop()
		}

		ids, err := store.ClaimQueuedReplies(ctx, opt.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return stop()
			}
			metrics.ClaimTotal.WithLabelValues("error").Inc()
			wait := jitter(dbBackoff, 0.20)
			log.Warn("claim failed", zap.Error(err), zap.Duration("backoff", wait))
			sleepCtx(ctx, wait)
			dbBackoff = min(opt.DBBackoffMax, time.Duration(float64(dbBackoff)*1.6))
			continue
		}
		dbBackoff = opt.DBBackoffMin

		metrics.ClaimBatchSize.Observe(float64(len(ids)))
		if len(ids) == 0 {
			metrics.ClaimTotal.WithLabelValues("empty").Inc()
			sleepCtx(ctx, opt.IdleSleep)
			continue
		}
		metrics.ClaimTotal.WithLabelValues("ok").Inc()

		for i, id := range ids {
			select {
			case <-ctx.Done():
				for _, rest := range ids[i:] {
					release(ctx, store, rest, log)
				}
				return stop()
			case jobs <- id:
			}
		}

		sleepCtx(ctx, opt.PollInterval)
	}
}

func sendOne(ctx context.Context, store ReplyStore, prov provider.Provider, limiter *rate.Limiter, id string, opt WorkerOptions, log *zap.Logger) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	reply, err := store.LoadReplyForSend(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			release(ctx, store, id, log)
			return
		}
		log.Error("load reply failed", zap.String("id", id), zap.Error(err))
		_ = store.MarkFailedPermanent(ctx, id)
		metrics.DeliveryTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := limiter.Wait(ctx); err != nil {
		release(ctx, store, id, log)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, opt.SendTimeout)
	defer cancel()

	providerID, err := prov.Send(sendCtx, reply.PhoneNumber, reply.Body)
	// the outcome is recorded even when shutdown starts mid-send
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			release(ctx, store, id, log)
			return
		}
		if reply.Attempts >= opt.MaxAttempts {
			log.Error("reply failed permanently", zap.String("id", id), zap.Int("attempts", reply.Attempts), zap.Error(err))
			_ = store.MarkFailedPermanent(bg, id)
			metrics.DeliveryTotal.WithLabelValues("failed").Inc()
			return
		}
		retryIn := opt.RetryDelay * time.Duration(max(reply.Attempts, 1))
		log.Warn("reply send failed, retrying", zap.String("id", id), zap.Int("attempts", reply.Attempts), zap.Duration("retry_in", retryIn), zap.Error(err))
		_ = store.MarkFailedWithRetry(bg, id, retryIn)
		metrics.DeliveryTotal.WithLabelValues("retry").Inc()
		return
	}

	if err := store.MarkSent(bg, id, providerID); err != nil {
		log.Error("mark sent failed", zap.String("id", id), zap.Error(err))
		return
	}
	metrics.DeliveryTotal.WithLabelValues("sent").Inc()
}

// release puts a claimed reply back in the queue during shutdown.
func release(ctx context.Context, store ReplyStore, id string, log *zap.Logger) {
	if err := store.ReleaseClaim(context.WithoutCancel(ctx), id); err != nil {
		// the claim lease hands it to a later run
		log.Warn("release claim failed", zap.String("id", id), zap.Error(err))
		return
	}
	metrics.DeliveryTotal.WithLabelValues("released").Inc()
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int64N(2*delta+1) - delta
	return d + time.Duration(n)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// OptionsFromConfig maps the worker section of the process config.
func OptionsFromConfig(c config.WorkerConfig, log *zap.Logger) WorkerOptions {
	return WorkerOptions{
		BatchSize:     c.BatchSize,
		Concurrency:   c.Concurrency,
		PollInterval:  c.PollInterval,
		IdleSleep:     c.IdleSleep,
		DBBackoffMin:  c.DBBackoffMin,
		DBBackoffMax:  c.DBBackoffMax,
		ProviderQPS:   c.ProviderQPS,
		ProviderBurst: c.ProviderBurst,
		SendTimeout:   c.SendTimeout,
		RetryDelay:    c.RetryDelay,
		MaxAttempts:   c.MaxAttempts,
		Logger:        log,
	}
}
