// Package calendar books shop appointments. Stub keeps events in the local
// key/value store and stands in for a hosted calendar; callers depend only on
// the Calendar interface so a real provider can replace it.
package calendar

import (
	"context"
	"errors"

	"github.com/Cypherspark/shopsense/internal/core"
)

// StorageKey is the key holding the JSON array of events.
const StorageKey = "google-calendar-events"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultDuration = 60 // minutes
)

var (
	ErrNotReady       = errors.New("calendar_not_ready")
	ErrInvalidBooking = errors.New("invalid_booking")
	ErrSlotTaken      = errors.New("slot_taken")
)

type Calendar interface {
	CreateEvent(ctx context.Context, b core.Booking) (*core.CalendarEvent, error)
	// GetEvents returns events whose start date lies in [startDate, endDate], both YYYY-MM-DD.
	GetEvents(ctx context.Context, startDate, endDate string) ([]core.CalendarEvent, error)
	// CheckConflict reports whether a same-day event overlaps the proposed slot.
	CheckConflict(ctx context.Context, date, clock string, durationMin int) (bool, error)
}

// Store persists JSON documents by key. kv.Store satisfies it.
type Store interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}
