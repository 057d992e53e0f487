package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransport is the generic failure of any provider call. Callers cannot tell
	// network faults from HTTP faults; the detail is only logged.
	ErrTransport   = errors.New("provider_transport_error")
	ErrSendFailed  = errors.New("failed to send SMS")
	ErrFetchFailed = errors.New("failed to fetch messages")
)

// RawMessage is a message as the provider reports it.
type RawMessage struct {
	ID         string    `json:"id"`
	Direction  string    `json:"direction"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbound reports whether the provider marked the message as received by us.
func (m RawMessage) Inbound() bool {
	return m.Direction == "inbound" || m.Direction == "received"
}

type Provider interface {
	Send(ctx context.Context, to, body string) (providerMsgID string, err error)
	Fetch(ctx context.Context, limit int) ([]RawMessage, error)
}

// Select returns the REST client when an API key is configured and the dummy otherwise.
func Select(opt ClientOptions) Provider {
	if opt.APIKey == "" {
		return NewDummy()
	}
	return NewClient(opt)
}
