// Package inbox keeps a live copy of the shop's SMS conversation by polling the
// backend, and exposes the reply and mark-read operations staff use.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/intent"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
)

const DefaultPollInterval = 5 * time.Second

var ErrAlreadyRunning = errors.New("inbox: controller already running")

type Backend interface {
	ListMessages(ctx context.Context) ([]core.Message, error)
	Reply(ctx context.Context, phoneNumber, message string) error
	MarkRead(ctx context.Context, id string) error
	MarkNotified(ctx context.Context, id string) error
}

// Notifier surfaces outcomes and newly arrived customer messages to staff.
type Notifier interface {
	Success(title, detail string)
	Failure(title, detail string)
	Incoming(m core.Message)
}

type Controller struct {
	backend  Backend
	interval time.Duration
	notify   Notifier
	log      *zap.Logger

	mu         sync.RWMutex
	messages   []core.Message
	loading    int
	sending    bool
	generation uint64 // bumped by every load that replaces messages
	announced  map[string]bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	loads  sync.WaitGroup
}

type Options struct {
	PollInterval time.Duration
	Notifier     Notifier
	Logger       *zap.Logger
}

func NewController(b Backend, opt Options) *Controller {
	log := logging.OrNop(opt.Logger).Named("inbox")
	c := &Controller{
		backend:   b,
		interval:  opt.PollInterval,
		notify:    opt.Notifier,
		log:       log,
		messages:  []core.Message{},
		announced: map[string]bool{},
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.notify == nil {
		c.notify = logNotifier{log: log}
	}
	return c
}

// Start loads messages now and then every poll interval until Stop or ctx is done.
//
// A tick does not wait for the previous load. A slow backend can therefore have
// several loads in flight, and whichever finishes last wins.
func (c *Controller) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.poll(ctx, c.done)
	return nil
}

func (c *Controller) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.spawnLoad(ctx)

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.loads.Wait()
			return
		case <-t.C:
			c.spawnLoad(ctx)
		}
	}
}

func (c *Controller) spawnLoad(ctx context.Context) {
	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		c.LoadMessages(ctx)
	}()
}

// Stop halts polling and waits for in-flight loads. Calling it when stopped is a no-op.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// LoadMessages replaces the list with the backend's. Any failure empties the list.
func (c *Controller) LoadMessages(ctx context.Context) {
	c.mu.Lock()
	c.loading++
	c.mu.Unlock()

	msgs, err := c.backend.ListMessages(ctx)

	c.mu.Lock()
	c.loading--
	if err != nil {
		defer c.mu.Unlock()
		if ctx.Err() != nil {
			// stopped mid-request; keep what we have
			return
		}
		metrics.SyncLoads.WithLabelValues("error").Inc()
		c.log.Warn("load messages failed", zap.Error(err))
		c.messages = []core.Message{}
		c.generation++
		return
	}
	metrics.SyncLoads.WithLabelValues("ok").Inc()
	if msgs == nil {
		msgs = []core.Message{}
	}
	c.messages = msgs
	c.generation++
	fresh := c.unannouncedLocked()
	c.mu.Unlock()

	c.announce(ctx, fresh)
}

// unannouncedLocked picks inbound messages the backend has not marked notified
// and this controller has not announced yet.
func (c *Controller) unannouncedLocked() []core.Message {
	var fresh []core.Message
	for _, m := range c.messages {
		if m.Direction != core.Inbound || m.Notified || c.announced[m.ID] {
			continue
		}
		c.announced[m.ID] = true
		fresh = append(fresh, m)
	}
	return fresh
}

// announce hands each message to the notifier, then records it as notified so
// other consoles and restarts do not announce it again.
func (c *Controller) announce(ctx context.Context, fresh []core.Message) {
	for _, m := range fresh {
		c.notify.Incoming(m)
		if err := c.backend.MarkNotified(ctx, m.ID); err != nil {
			c.log.Warn("mark notified failed", zap.String("id", m.ID), zap.Error(err))
		}
	}
}

// SendMessage posts a reply and, on success, reloads the full list. The reply is
// not appended locally.
func (c *Controller) SendMessage(ctx context.Context, phoneNumber, text string) error {
	c.mu.Lock()
	c.sending = true
	c.mu.Unlock()

	err := c.backend.Reply(ctx, phoneNumber, text)

	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()

	if err != nil {
		c.log.Error("send reply failed", zap.String("phone", phoneNumber), zap.Error(err))
		c.notify.Failure("Message failed", "Could not send the reply. Please try again.")
		return fmt.Errorf("send message: %w", err)
	}
	c.notify.Success("Message sent", "Reply sent to "+phoneNumber)
	c.LoadMessages(ctx)
	return nil
}

// MarkAsRead flips the local read flag at once, then confirms with the backend.
// If the backend refuses, the previous value is restored unless a reload has
// replaced the list in the meantime.
func (c *Controller) MarkAsRead(ctx context.Context, id string) error {
	c.mu.Lock()
	gen := c.generation
	idx := slices.IndexFunc(c.messages, func(m core.Message) bool { return m.ID == id })
	var prev bool
	if idx >= 0 {
		prev = c.messages[idx].Read
		c.messages[idx].Read = true
	}
	c.mu.Unlock()

	err := c.backend.MarkRead(ctx, id)
	if err == nil {
		return nil
	}

	c.log.Warn("mark read failed", zap.String("id", id), zap.Error(err))
	c.mu.Lock()
	if idx >= 0 && c.generation == gen {
		c.messages[idx].Read = prev
	}
	c.mu.Unlock()
	return fmt.Errorf("mark read %s: %w", id, err)
}

// Messages returns a copy of the current list in backend order.
func (c *Controller) Messages() []core.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

func (c *Controller) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading > 0
}

func (c *Controller) IsSending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sending
}

// UnreadCount counts inbound messages not marked read.
func (c *Controller) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.messages {
		if m.Direction == core.Inbound && !m.Read {
			n++
		}
	}
	return n
}

// EmergencyMessages returns inbound messages whose intent mentions an emergency.
func (c *Controller) EmergencyMessages() []core.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.Message
	for _, m := range c.messages {
		if m.Direction == core.Inbound && intent.IsEmergency(m.IntentText()) {
			out = append(out, m)
		}
	}
	return out
}

type logNotifier struct{ log *zap.Logger }

func (n logNotifier) Success(title, detail string) {
	n.log.Info(title, zap.String("detail", detail))
}

func (n logNotifier) Failure(title, detail string) {
	n.log.Warn(title, zap.String("detail", detail))
}

func (n logNotifier) Incoming(m core.Message) {
	fields := []zap.Field{zap.String("id", m.ID), zap.String("from", m.PhoneNumber), zap.String("intent", m.IntentText())}
	if intent.IsEmergency(m.IntentText()) {
		n.log.Warn("emergency message", fields...)
		return
	}
	n.log.Info("new message", fields...)
}
