package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/calendar"
	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
)

// MessageStore is the message persistence the API needs. *core.Store implements it.
type MessageStore interface {
	ListMessages(ctx context.Context, limit int) ([]core.Message, error)
	EnqueueReply(ctx context.Context, r core.ReplyRequest) (string, error)
	MarkRead(ctx context.Context, id string) error
	MarkNotified(ctx context.Context, id string) error
	SaveInbound(ctx context.Context, r core.InboundRequest) (string, bool, error)
	Ping(ctx context.Context) error
}

// Booker is the calendar surface behind the booking endpoints. *calendar.Stub implements it.
type Booker interface {
	calendar.Calendar
	Ready() bool
	// BookEvent creates the event unless its slot is taken (calendar.ErrSlotTaken).
	BookEvent(ctx context.Context, b core.Booking) (*core.CalendarEvent, error)
	GetTodaysAppointments(ctx context.Context) ([]core.CalendarEvent, error)
	GetUpcomingAppointments(ctx context.Context) ([]core.CalendarEvent, error)
}

type Server struct {
	Store    MessageStore
	Calendar Booker
	Log      *zap.Logger

	validate *validator.Validate
	now      func() time.Time
}

func NewServer(store MessageStore, cal Booker, log *zap.Logger) *Server {
	return &Server{
		Store:    store,
		Calendar: cal,
		Log:      logging.OrNop(log).Named("http"),
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(s.Log), middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", s.listMessages)
		r.Post("/messages/reply", s.postReply)
		r.Post("/messages/inbound", s.postInbound)
		r.Post("/messages/{id}/read", s.markRead)
		r.Post("/messages/{id}/notified", s.markNotified)

		r.Post("/calendar/events", s.createEvent)
		r.Get("/calendar/events", s.listEvents)
		r.Get("/calendar/events.ics", s.exportEvents)
		r.Get("/calendar/today", s.todaysEvents)
		r.Get("/calendar/upcoming", s.upcomingEvents)
		r.Get("/calendar/conflict", s.checkConflict)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

const (
	defaultListLimit = 200
	maxListLimit     = 1000
)

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}
	msgs, err := s.Store.ListMessages(r.Context(), limit)
	if err != nil {
		s.Log.Error("list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) postReply(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PhoneNumber string `json:"phoneNumber" validate:"required,max=32"`
		Message     string `json:"message" validate:"required,max=1600"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || s.validate.Struct(in) != nil {
		metrics.ReplyEnqueue.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	id, err := s.Store.EnqueueReply(r.Context(), core.ReplyRequest{PhoneNumber: in.PhoneNumber, Body: in.Message})
	if err != nil {
		if errors.Is(err, core.ErrInvalidReply) {
			metrics.ReplyEnqueue.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
		metrics.ReplyEnqueue.WithLabelValues("error").Inc()
		s.Log.Error("enqueue reply", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	metrics.ReplyEnqueue.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message_not_found")
			return
		}
		s.Log.Error("mark read", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) markNotified(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.MarkNotified(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message_not_found")
			return
		}
		s.Log.Error("mark notified", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// postInbound is the provider's delivery webhook for received SMS.
func (s *Server) postInbound(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID         string    `json:"id"`
		From       string    `json:"from" validate:"required,max=32"`
		Text       string    `json:"text" validate:"required"`
		ReceivedAt time.Time `json:"receivedAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || s.validate.Struct(in) != nil {
		metrics.InboundStored.WithLabelValues("webhook", "error").Inc()
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var providerID *string
	if in.ID != "" {
		providerID = &in.ID
	}
	id, created, err := s.Store.SaveInbound(r.Context(), core.ClassifiedInbound(in.From, in.Text, providerID, in.ReceivedAt))
	if err != nil {
		metrics.InboundStored.WithLabelValues("webhook", "error").Inc()
		s.Log.Error("save inbound", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if !created {
		metrics.InboundStored.WithLabelValues("webhook", "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
		return
	}
	metrics.InboundStored.WithLabelValues("webhook", "created").Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}
