package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/calendar"
	"github.com/Cypherspark/shopsense/internal/core"
	"github.com/Cypherspark/shopsense/internal/metrics"
)

func (s *Server) calendarError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, calendar.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "calendar_not_ready")
	case errors.Is(err, calendar.ErrInvalidBooking):
		writeError(w, http.StatusBadRequest, "invalid_booking")
	default:
		s.Log.Error("calendar "+op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var b core.Booking
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		metrics.BookingsCreated.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	ev, err := s.Calendar.BookEvent(r.Context(), b)
	if err != nil {
		switch {
		case errors.Is(err, calendar.ErrSlotTaken):
			metrics.BookingsCreated.WithLabelValues("conflict").Inc()
			writeError(w, http.StatusConflict, "slot_taken")
			return
		case errors.Is(err, calendar.ErrNotReady):
			metrics.BookingsCreated.WithLabelValues("not_ready").Inc()
		case errors.Is(err, calendar.ErrInvalidBooking):
			metrics.BookingsCreated.WithLabelValues("invalid").Inc()
		default:
			metrics.BookingsCreated.WithLabelValues("error").Inc()
		}
		s.calendarError(w, "create", err)
		return
	}
	metrics.BookingsCreated.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	start, end := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "start_and_end_required")
		return
	}
	events, err := s.Calendar.GetEvents(r.Context(), start, end)
	if err != nil {
		s.calendarError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) todaysEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.Calendar.GetTodaysAppointments(r.Context())
	if err != nil {
		s.calendarError(w, "today", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) upcomingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.Calendar.GetUpcomingAppointments(r.Context())
	if err != nil {
		s.calendarError(w, "upcoming", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) checkConflict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration := 0
	if v := q.Get("duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration")
			return
		}
		duration = n
	}
	conflict, err := s.Calendar.CheckConflict(r.Context(), q.Get("date"), q.Get("time"), duration)
	if err != nil {
		s.calendarError(w, "conflict", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"conflict": conflict})
}

// exportEvents serves the upcoming week as an iCalendar feed.
func (s *Server) exportEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.Calendar.GetUpcomingAppointments(r.Context())
	if err != nil {
		s.calendarError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.ics"`)
	if err := calendar.ExportICS(w, events, s.now()); err != nil {
		s.Log.Error("export ics", zap.Error(err))
	}
}
