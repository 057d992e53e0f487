package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// Dummy simulates a provider: sends succeed after a short delay with an occasional
// temporary failure, and fetched messages are whatever was queued with Receive.
type Dummy struct {
	FailPercent int
	Latency     time.Duration

	mu    sync.Mutex
	inbox []RawMessage
}

func NewDummy() *Dummy { return &Dummy{FailPercent: 3, Latency: 50 * time.Millisecond} }

func (d *Dummy) Send(ctx context.Context, to, body string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(d.Latency):
	}
	if rand.IntN(100) < d.FailPercent {
		return "", errors.Join(ErrSendFailed, ErrTransport)
	}
	return "prov-" + randomID(), nil
}

// Receive queues an inbound message for the next Fetch.
func (d *Dummy) Receive(from, text string) RawMessage {
	m := RawMessage{ID: "prov-" + randomID(), Direction: "inbound", From: from, Text: text, ReceivedAt: time.Now().UTC()}
	d.mu.Lock()
	d.inbox = append(d.inbox, m)
	d.mu.Unlock()
	return m
}

func (d *Dummy) Fetch(_ context.Context, limit int) ([]RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RawMessage, 0, min(max(limit, 0), len(d.inbox)))
	for i := len(d.inbox) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.inbox[i])
	}
	return out, nil
}

func randomID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}
