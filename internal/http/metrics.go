package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cypherspark/shopsense/internal/metrics"
)

func (s *Server) mountMetrics(r chi.Router) {
	metrics.MustRegister()
	r.Method("GET", "/metrics", promhttp.Handler())
}
