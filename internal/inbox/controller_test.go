package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cypherspark/shopsense/internal/core"
)

type fakeBackend struct {
	mu       sync.Mutex
	messages []core.Message
	listErr  error
	replyErr error
	readErr  error
	lists    atomic.Int32
	replies  []string
	reads    []string
	notified []string
}

func (f *fakeBackend) ListMessages(context.Context) ([]core.Message, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]core.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeBackend) Reply(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, phone+":"+text)
	f.messages = append(f.messages, core.Message{ID: "r" + phone, PhoneNumber: phone, Body: text, Direction: core.Outbound, Read: true})
	return nil
}

func (f *fakeBackend) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, id)
	return f.readErr
}

func (f *fakeBackend) MarkNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	failures  []string
	incoming  []string
}

func (n *recordingNotifier) Success(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, title)
}

func (n *recordingNotifier) Failure(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, title)
}

func (n *recordingNotifier) Incoming(m core.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming = append(n.incoming, m.ID)
}

func strPtr(s string) *string { return &s }

func inbound(id string, read bool) core.Message {
	return core.Message{ID: id, PhoneNumber: "+1555", Body: "hi", Direction: core.Inbound, Read: read}
}

func TestLoadThenMarkAsRead_UnreadCount(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}}
	c := NewController(b, Options{})
	ctx := context.Background()

	c.LoadMessages(ctx)
	require.Equal(t, 1, c.UnreadCount())

	require.NoError(t, c.MarkAsRead(ctx, "1"))
	require.Equal(t, 0, c.UnreadCount())
	require.Equal(t, []string{"1"}, b.reads)
	require.Equal(t, int32(1), b.lists.Load(), "mark read must not reload")
}

func TestMarkAsRead_RollsBackOnFailure(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}, readErr: errors.New("503")}
	c := NewController(b, Options{})
	ctx := context.Background()
	c.LoadMessages(ctx)

	err := c.MarkAsRead(ctx, "1")
	require.Error(t, err)
	require.Equal(t, 1, c.UnreadCount())
}

func TestMarkAsRead_AlreadyReadStaysRead(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", true)}, readErr: errors.New("503")}
	c := NewController(b, Options{})
	c.LoadMessages(context.Background())

	require.Error(t, c.MarkAsRead(context.Background(), "1"))
	require.True(t, c.Messages()[0].Read)
}

func TestUnreadCount_IgnoresOutbound(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{
		inbound("1", false),
		inbound("2", true),
		{ID: "3", Direction: core.Outbound},
		inbound("4", false),
	}}
	c := NewController(b, Options{})
	c.LoadMessages(context.Background())
	require.Equal(t, 2, c.UnreadCount())
}

func TestLoadMessages_FailureEmptiesList(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}}
	c := NewController(b, Options{})
	c.LoadMessages(context.Background())
	require.Len(t, c.Messages(), 1)

	b.mu.Lock()
	b.listErr = errors.New("down")
	b.mu.Unlock()
	c.LoadMessages(context.Background())
	require.NotNil(t, c.Messages())
	require.Empty(t, c.Messages())
	require.False(t, c.IsLoading())
}

func TestSendMessage_ReloadsWithoutLocalAppend(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}}
	n := &recordingNotifier{}
	c := NewController(b, Options{Notifier: n})
	ctx := context.Background()
	c.LoadMessages(ctx)

	require.NoError(t, c.SendMessage(ctx, "+1555", "On our way"))
	require.Equal(t, []string{"+1555:On our way"}, b.replies)
	require.Len(t, c.Messages(), 2)
	require.Equal(t, 1, c.UnreadCount(), "reply does not change unread count")
	require.Equal(t, []string{"Message sent"}, n.successes)
	require.False(t, c.IsSending())
}

func TestLoadMessages_AnnouncesNewInboundOnce(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{
		inbound("1", false),
		{ID: "2", Direction: core.Inbound, Notified: true},
		{ID: "3", Direction: core.Outbound},
		{ID: "4", Direction: core.Inbound, Read: true},
	}}
	n := &recordingNotifier{}
	c := NewController(b, Options{Notifier: n})
	ctx := context.Background()

	c.LoadMessages(ctx)
	c.LoadMessages(ctx)
	require.Equal(t, []string{"1", "4"}, n.incoming)
	require.Equal(t, []string{"1", "4"}, b.notified)
}

func TestSendMessage_FailureReturnsError(t *testing.T) {
	boom := errors.New("boom")
	b := &fakeBackend{replyErr: boom}
	n := &recordingNotifier{}
	c := NewController(b, Options{Notifier: n})

	err := c.SendMessage(context.Background(), "+1", "x")
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"Message failed"}, n.failures)
	require.Equal(t, int32(0), b.lists.Load())
	require.False(t, c.IsSending())
}

func TestEmergencyMessages(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{
		{ID: "1", Direction: core.Inbound, Intent: strPtr("Emergency")},
		{ID: "2", Direction: core.Inbound, Intent: strPtr("booking")},
		{ID: "3", Direction: core.Outbound, Intent: strPtr("emergency")},
		{ID: "4", Direction: core.Inbound, Intent: strPtr("roadside_EMERGENCY")},
		{ID: "5", Direction: core.Inbound},
	}}
	c := NewController(b, Options{})
	c.LoadMessages(context.Background())

	var ids []string
	for _, m := range c.EmergencyMessages() {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"1", "4"}, ids)
}

func TestStartStop_Polls(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}}
	c := NewController(b, Options{PollInterval: 10 * time.Millisecond})

	require.NoError(t, c.Start(context.Background()))
	require.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(t, func() bool { return b.lists.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, c.UnreadCount())

	c.Stop()
	after := b.lists.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, b.lists.Load(), "no loads after stop")

	c.Stop()
	require.NoError(t, c.Start(context.Background()))
	c.Stop()
}

func TestStart_LoadsImmediately(t *testing.T) {
	b := &fakeBackend{messages: []core.Message{inbound("1", false)}}
	c := NewController(b, Options{PollInterval: time.Hour})

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	require.Eventually(t, func() bool { return c.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_WithHTTPBackend(t *testing.T) {
	var readPath string
	mux := http.NewServeMux()
	var limit, notifiedPath string
	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]any{
			{"id": "1", "phoneNumber": "+1", "body": "help", "direction": "inbound", "read": false, "intent": "emergency"},
		}})
	})
	mux.HandleFunc("POST /api/messages/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		readPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/messages/{id}/notified", func(w http.ResponseWriter, r *http.Request) {
		notifiedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/messages/reply", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewController(NewClient(srv.URL, srv.Client()), Options{})
	ctx := context.Background()
	c.LoadMessages(ctx)
	require.Equal(t, 1, c.UnreadCount())
	require.Len(t, c.EmergencyMessages(), 1)
	require.Equal(t, strconv.Itoa(ListLimit), limit)
	require.Equal(t, "/api/messages/1/notified", notifiedPath)

	require.NoError(t, c.MarkAsRead(ctx, "1"))
	require.Equal(t, "/api/messages/1/read", readPath)
	require.Zero(t, c.UnreadCount())

	err := c.SendMessage(ctx, "+1", "x")
	require.ErrorIs(t, err, ErrRequestFailed)
}

// slowFirstBackend blocks its first list call until released, ignoring
// cancellation like a slow server would, and answers every later call at once.
type slowFirstBackend struct {
	fakeBackend
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	started     chan struct{}
	release     chan struct{}
	stale       []core.Message
}

func (b *slowFirstBackend) ListMessages(ctx context.Context) ([]core.Message, error) {
	cur := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		prev := b.maxInFlight.Load()
		if cur <= prev || b.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if b.calls.Add(1) == 1 {
		close(b.started)
		<-b.release
		return b.stale, nil
	}
	return b.fakeBackend.ListMessages(ctx)
}

func TestStart_OverlappingLoadsLastWriterWins(t *testing.T) {
	fresh := core.Message{ID: "fresh", Direction: core.Outbound}
	stale := core.Message{ID: "stale", Direction: core.Outbound}
	b := &slowFirstBackend{
		fakeBackend: fakeBackend{messages: []core.Message{fresh}},
		started:     make(chan struct{}),
		release:     make(chan struct{}),
		stale:       []core.Message{stale},
	}
	c := NewController(b, Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, c.Start(context.Background()))
	<-b.started

	// later ticks complete while the first load is still out
	require.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].ID == "fresh"
	}, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, b.maxInFlight.Load(), int32(2))
	require.True(t, c.IsLoading())

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	require.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond, "stop must wait for the blocked load")

	close(b.release)
	<-stopped

	// the older response arrived last and replaced the newer list
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "stale", msgs[0].ID)
	require.False(t, c.IsLoading())
}
