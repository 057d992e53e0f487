package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/logging"
)

type Stub struct {
	store    Store
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
	validate *validator.Validate

	mu     sync.RWMutex
	ready  bool
	events []core.CalendarEvent
}

var _ Calendar = (*Stub)(nil)

type Option func(*Stub)

func WithLocation(loc *time.Location) Option { return func(s *Stub) { s.loc = loc } }
func WithClock(now func() time.Time) Option  { return func(s *Stub) { s.now = now } }
func WithLogger(l *zap.Logger) Option {
	return func(s *Stub) { s.log = logging.OrNop(l).Named("calendar") }
}

// NewStub returns a stub that is not ready until Init succeeds.
func NewStub(store Store, opts ...Option) *Stub {
	s := &Stub{
		store:    store,
		loc:      time.Local,
		now:      time.Now,
		log:      zap.NewNop(),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init loads the persisted events and marks the stub ready.
func (s *Stub) Init(ctx context.Context) error {
	var events []core.CalendarEvent
	if _, err := s.store.GetJSON(ctx, StorageKey, &events); err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	s.mu.Lock()
	s.events = events
	s.ready = true
	s.mu.Unlock()
	s.log.Info("calendar ready", zap.Int("events", len(events)))
	return nil
}

func (s *Stub) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Stub) CreateEvent(ctx context.Context, b core.Booking) (*core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, b)
}

// BookEvent creates the event only if its slot is free. The check and the insert
// happen under one lock, so concurrent bookings of one slot cannot both succeed.
func (s *Stub) BookEvent(ctx context.Context, b core.Booking) (*core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, ErrNotReady
	}
	taken, err := s.conflictLocked(b.Date, b.Time, b.Duration)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}
	return s.createLocked(ctx, b)
}

func (s *Stub) createLocked(ctx context.Context, b core.Booking) (*core.CalendarEvent, error) {
	if !s.ready {
		return nil, ErrNotReady
	}
	if err := s.validate.Struct(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}

	start, err := s.parseSlot(b.Date, b.Time)
	if err != nil {
		return nil, err
	}
	duration := b.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	end := start.Add(time.Duration(duration) * time.Minute)

	ev := core.CalendarEvent{
		ID:          uuid.NewString(),
		Summary:     fmt.Sprintf("%s - %s", b.Service, b.CustomerName),
		Description: describe(b),
		Start:       core.EventTime{DateTime: start, TimeZone: s.loc.String()},
		End:         core.EventTime{DateTime: end, TimeZone: s.loc.String()},
	}
	if b.Email != "" {
		ev.Attendees = []core.Attendee{{Email: b.Email, DisplayName: b.CustomerName}}
	}

	next := make([]core.CalendarEvent, len(s.events), len(s.events)+1)
	copy(next, s.events)
	next = append(next, ev)
	if err := s.store.SetJSON(ctx, StorageKey, next); err != nil {
		s.log.Error("persist event", zap.String("id", ev.ID), zap.Error(err))
		return nil, fmt.Errorf("persist event: %w", err)
	}
	s.events = next

	s.log.Info("event created", zap.String("id", ev.ID), zap.Time("start", start), zap.Int("duration_min", duration))
	return &ev, nil
}

func (s *Stub) GetEvents(_ context.Context, startDate, endDate string) ([]core.CalendarEvent, error) {
	if _, err := time.Parse(DateLayout, startDate); err != nil {
		return nil, fmt.Errorf("%w: start date %q", ErrInvalidBooking, startDate)
	}
	if _, err := time.Parse(DateLayout, endDate); err != nil {
		return nil, fmt.Errorf("%w: end date %q", ErrInvalidBooking, endDate)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.CalendarEvent{}
	for _, ev := range s.events {
		// YYYY-MM-DD compares correctly as a string
		d := s.dateOf(ev.Start.DateTime)
		if d >= startDate && d <= endDate {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Stub) CheckConflict(_ context.Context, date, clock string, durationMin int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflictLocked(date, clock, durationMin)
}

func (s *Stub) conflictLocked(date, clock string, durationMin int) (bool, error) {
	start, err := s.parseSlot(date, clock)
	if err != nil {
		return false, err
	}
	if durationMin <= 0 {
		durationMin = DefaultDuration
	}
	end := start.Add(time.Duration(durationMin) * time.Minute)

	for _, ev := range s.events {
		if s.dateOf(ev.Start.DateTime) != date {
			continue
		}
		if Overlaps(start, end, ev.Start.DateTime, ev.End.DateTime) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Stub) GetTodaysAppointments(ctx context.Context) ([]core.CalendarEvent, error) {
	today := s.now().In(s.loc).Format(DateLayout)
	return s.GetEvents(ctx, today, today)
}

// GetUpcomingAppointments covers today through seven days ahead.
func (s *Stub) GetUpcomingAppointments(ctx context.Context) ([]core.CalendarEvent, error) {
	now := s.now().In(s.loc)
	return s.GetEvents(ctx, now.Format(DateLayout), now.AddDate(0, 0, 7).Format(DateLayout))
}

// Overlaps is the half-open interval test: touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func (s *Stub) parseSlot(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: slot %q %q", ErrInvalidBooking, date, clock)
	}
	return t, nil
}

func (s *Stub) dateOf(t time.Time) string {
	return t.In(s.loc).Format(DateLayout)
}

func describe(b core.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer: %s\n", b.CustomerName)
	fmt.Fprintf(&sb, "Phone: %s\n", b.Phone)
	if b.Email != "" {
		fmt.Fprintf(&sb, "Email: %s\n", b.Email)
	}
	if b.Vehicle != "" {
		fmt.Fprintf(&sb, "Vehicle: %s\n", b.Vehicle)
	}
	fmt.Fprintf(&sb, "Service: %s\n", b.Service)
	if b.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", b.Notes)
	}
	sb.WriteString("\nBooked via ShopSense AI")
	return sb.String()
}
