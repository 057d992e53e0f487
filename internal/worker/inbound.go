package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
	"github.com/Cypherspark/shopsense/internal/provider"
)

type InboundStore interface {
	SaveInbound(ctx context.Context, r core.InboundRequest) (id string, created bool, err error)
}

// InboundPoller copies received messages from the provider into the store.
type InboundPoller struct {
	Store    InboundStore
	Provider provider.Provider
	Limit    int
	Logger   *zap.Logger
}

// PollOnce fetches the latest provider messages and stores the inbound ones it
// has not seen. It returns how many were new.
func (p *InboundPoller) PollOnce(ctx context.Context) (int, error) {
	log := logging.OrNop(p.Logger).Named("inbound")
	msgs, err := p.Provider.Fetch(ctx, p.Limit)
	if err != nil {
		return 0, fmt.Errorf("fetch inbound: %w", err)
	}

	created := 0
	for _, m := range msgs {
		if !m.Inbound() {
			continue
		}
		var providerID *string
		if m.ID != "" {
			id := m.ID
			providerID = &id
		}
		_, isNew, err := p.Store.SaveInbound(ctx, core.ClassifiedInbound(m.From, m.Text, providerID, m.ReceivedAt))
		if err != nil {
			metrics.InboundStored.WithLabelValues("poll", "error").Inc()
			return created, fmt.Errorf("store inbound %s: %w", m.ID, err)
		}
		if isNew {
			created++
			metrics.InboundStored.WithLabelValues("poll", "created").Inc()
			log.Info("inbound message stored", zap.String("provider_id", m.ID), zap.String("from", m.From))
		} else {
			metrics.InboundStored.WithLabelValues("poll", "duplicate").Inc()
		}
	}
	return created, nil
}

// StartInboundPoller runs PollOnce every interval on a gocron scheduler. A run
// still in progress when the next is due is skipped. Call Shutdown on the
// returned scheduler to stop.
//
//nolint:ireturn // gocron exposes the scheduler as an interface
func StartInboundPoller(ctx context.Context, p *InboundPoller, interval time.Duration) (gocron.Scheduler, error) {
	log := logging.OrNop(p.Logger)
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logging.NewGocronLogger(log)),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := p.PollOnce(ctx); err != nil {
				log.Warn("inbound poll failed", zap.Error(err))
			}
		}),
		gocron.WithName("inbound-poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule inbound poll: %w", err)
	}

	s.Start()
	return s, nil
}
