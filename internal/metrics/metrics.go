package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)
	ReplyEnqueue = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_reply_enqueue_total", Help: "Reply enqueue results."},
		[]string{"result"}, // ok | invalid | error
	)
	InboundStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "inbound_messages_total", Help: "Inbound messages by source and outcome."},
		[]string{"source", "result"}, // webhook|poll ; created | duplicate | error
	)
	BookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "calendar_bookings_total", Help: "Calendar booking attempts."},
		[]string{"result"}, // ok | conflict | not_ready | invalid | error
	)

	// Provider
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_calls_total", Help: "Provider API calls."},
		[]string{"op", "result"}, // send|fetch ; ok | error
	)
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Provider API latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
		[]string{"op"},
	)

	// Worker
	ClaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_claim_total", Help: "Claim attempts."},
		[]string{"result"}, // ok | empty | error
	)
	ClaimBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_claim_batch_size",
			Help:    "Number of IDs returned per claim.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0,10,...,100
		},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "worker_inflight", Help: "In-flight replies in this process."},
	)
	DeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_delivery_total", Help: "Reply delivery outcomes."},
		[]string{"outcome"}, // sent | retry | failed | released
	)

	// Inbox sync
	SyncLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "inbox_sync_loads_total", Help: "Message list reloads by the sync controller."},
		[]string{"result"}, // ok | error
	)
)

var registerOnce sync.Once

// MustRegister registers our collectors on the default registry, which already
// carries the Go and process collectors. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests, HTTPDuration, ReplyEnqueue, InboundStored, BookingsCreated,
			ProviderCalls, ProviderCallDuration,
			ClaimTotal, ClaimBatchSize, InFlight, DeliveryTotal,
			SyncLoads,
		)
	})
}

// PGXPoolStats exports pgxpool statistics as gauges.
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns        prometheus.Gauge
	idle         prometheus.Gauge
	acquireCount prometheus.Gauge
	acquireSecs  prometheus.Gauge
}

func NewPGXPoolStats(pool *pgxpool.Pool, reg prometheus.Registerer) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		// pgxpool reports cumulative values, so these are gauges mirroring them
		acquireCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquires", Help: "Cumulative pool acquires.",
		}),
		acquireSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquire_seconds", Help: "Cumulative acquire latency.",
		}),
	}
	reg.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireSecs)
	return m
}

// Start samples the pool every interval until stop is closed.
func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Set(float64(s.AcquireCount()))
			m.acquireSecs.Set(s.AcquireDuration().Seconds())
		}
	}
}
