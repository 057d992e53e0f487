package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/kv"
)

type memStore struct {
	data   map[string][]byte
	setErr error
}

func (m *memStore) GetJSON(_ context.Context, key string, v any) (bool, error) {
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *memStore) SetJSON(_ context.Context, key string, v any) error {
	if m.setErr != nil {
		return m.setErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = b
	return nil
}

var fixedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newReadyStub(t *testing.T, store Store) *Stub {
	t.Helper()
	s := NewStub(store, WithLocation(time.UTC), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, s.Init(context.Background()))
	return s
}

func booking(date, clock string, duration int) core.Booking {
	return core.Booking{
		CustomerName: "Dana",
		Phone:        "+15550100",
		Service:      "Oil change",
		Date:         date,
		Time:         clock,
		Duration:     duration,
	}
}

func TestCreateEvent_NotReady(t *testing.T) {
	s := NewStub(&memStore{})
	ev, err := s.CreateEvent(context.Background(), booking("2025-03-10", "09:00", 60))
	require.Nil(t, ev)
	require.ErrorIs(t, err, ErrNotReady)

	// readiness wins over validation
	ev, err = s.CreateEvent(context.Background(), core.Booking{})
	require.Nil(t, ev)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestCreateEvent_Builds(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	b := booking("2025-03-10", "09:30", 0)
	b.Email = "dana@example.com"
	b.Vehicle = "2019 Civic"
	b.Notes = "squeaky brakes"

	ev, err := s.CreateEvent(context.Background(), b)
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Equal(t, "Oil change - Dana", ev.Summary)
	require.Equal(t, time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), ev.Start.DateTime)
	require.Equal(t, time.Hour, ev.End.DateTime.Sub(ev.Start.DateTime))
	require.True(t, ev.Start.DateTime.Before(ev.End.DateTime))
	require.Equal(t, []core.Attendee{{Email: "dana@example.com", DisplayName: "Dana"}}, ev.Attendees)
	for _, part := range []string{"Customer: Dana", "Phone: +15550100", "Vehicle: 2019 Civic", "Service: Oil change", "Notes: squeaky brakes"} {
		require.Contains(t, ev.Description, part)
	}
}

func TestCreateEvent_NoEmailNoAttendee(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ev, err := s.CreateEvent(context.Background(), booking("2025-03-10", "09:00", 30))
	require.NoError(t, err)
	require.Empty(t, ev.Attendees)
	require.Equal(t, 30*time.Minute, ev.End.DateTime.Sub(ev.Start.DateTime))
}

func TestCreateEvent_Invalid(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	for _, b := range []core.Booking{
		booking("10/03/2025", "09:00", 60),
		booking("2025-03-10", "9am", 60),
		{Date: "2025-03-10", Time: "09:00"},
	} {
		ev, err := s.CreateEvent(context.Background(), b)
		require.Nil(t, ev)
		require.ErrorIs(t, err, ErrInvalidBooking)
	}
}

func TestCreateEvent_PersistFailureLeavesListUnchanged(t *testing.T) {
	store := &memStore{setErr: errors.New("disk full")}
	s := newReadyStub(t, store)

	ev, err := s.CreateEvent(context.Background(), booking("2025-03-10", "09:00", 60))
	require.Nil(t, ev)
	require.Error(t, err)

	got, err := s.GetEvents(context.Background(), "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCreateThenGetEvents_RoundTrip(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, booking("2025-03-12", "14:00", 60))
	require.NoError(t, err)

	got, err := s.GetEvents(ctx, "2025-03-12", "2025-03-12")
	require.NoError(t, err)
	require.Equal(t, []core.CalendarEvent{*ev}, got)

	got, err = s.GetEvents(ctx, "2025-03-01", "2025-03-31")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.GetEvents(ctx, "2025-03-13", "2025-03-20")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGetEvents_BadDate(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	_, err := s.GetEvents(context.Background(), "March", "2025-03-20")
	require.ErrorIs(t, err, ErrInvalidBooking)
}

func TestCheckConflict(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ctx := context.Background()
	// existing 09:00-10:00
	_, err := s.CreateEvent(ctx, booking("2025-03-10", "09:00", 60))
	require.NoError(t, err)

	cases := []struct {
		name     string
		clock    string
		duration int
		want     bool
	}{
		{"exact match", "09:00", 60, true},
		{"contained", "09:15", 30, true},
		{"contains existing", "08:30", 120, true},
		{"overlaps start", "08:30", 60, true},
		{"overlaps end", "09:30", 60, true},
		{"adjacent after", "10:00", 60, false},
		{"adjacent before", "08:00", 60, false},
		{"well clear", "13:00", 60, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.CheckConflict(ctx, "2025-03-10", tc.clock, tc.duration)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	got, err := s.CheckConflict(ctx, "2025-03-11", "09:00", 60)
	require.NoError(t, err)
	require.False(t, got, "other day")
}

func TestCheckConflict_DefaultDuration(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ctx := context.Background()
	_, err := s.CreateEvent(ctx, booking("2025-03-10", "10:30", 30))
	require.NoError(t, err)

	got, err := s.CheckConflict(ctx, "2025-03-10", "10:00", 0)
	require.NoError(t, err)
	require.True(t, got)
}

func TestTodayAndUpcoming(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ctx := context.Background()
	for _, d := range []string{"2025-03-09", "2025-03-10", "2025-03-14", "2025-03-17", "2025-03-18"} {
		_, err := s.CreateEvent(ctx, booking(d, "09:00", 60))
		require.NoError(t, err)
	}

	today, err := s.GetTodaysAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, today, 1)

	upcoming, err := s.GetUpcomingAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, upcoming, 3)
}

func TestInit_LoadsPersistedEvents(t *testing.T) {
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	first := newReadyStub(t, store)
	ev, err := first.CreateEvent(ctx, booking("2025-03-10", "11:00", 45))
	require.NoError(t, err)

	second := newReadyStub(t, store)
	got, err := second.GetEvents(ctx, "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ev.ID, got[0].ID)
	require.True(t, ev.Start.DateTime.Equal(got[0].Start.DateTime))

	conflict, err := second.CheckConflict(ctx, "2025-03-10", "11:30", 60)
	require.NoError(t, err)
	require.True(t, conflict)
}

func TestDescribe(t *testing.T) {
	d := describe(booking("2025-03-10", "09:00", 60))
	require.False(t, strings.Contains(d, "Email:"))
	require.True(t, strings.HasSuffix(d, "Booked via ShopSense AI"))
}

func TestBookEvent_RefusesTakenSlot(t *testing.T) {
	s := newReadyStub(t, &memStore{})
	ctx := context.Background()

	_, err := s.BookEvent(ctx, booking("2025-03-10", "09:00", 60))
	require.NoError(t, err)

	ev, err := s.BookEvent(ctx, booking("2025-03-10", "09:30", 30))
	require.Nil(t, ev)
	require.ErrorIs(t, err, ErrSlotTaken)

	_, err = s.BookEvent(ctx, booking("2025-03-10", "10:00", 30))
	require.NoError(t, err)

	_, err = NewStub(&memStore{}).BookEvent(ctx, booking("2025-03-10", "09:00", 60))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestBookEvent_ConcurrentSameSlot(t *testing.T) {
	s := newReadyStub(t, &memStore{})

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.BookEvent(context.Background(), booking("2025-03-11", "14:00", 60))
		}()
	}
	close(start)
	wg.Wait()

	booked := 0
	for _, err := range errs {
		if err == nil {
			booked++
			continue
		}
		require.ErrorIs(t, err, ErrSlotTaken)
	}
	require.Equal(t, 1, booked)

	events, err := s.GetEvents(context.Background(), "2025-03-11", "2025-03-11")
	require.NoError(t, err)
	require.Len(t, events, 1)
}
