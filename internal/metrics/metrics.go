// Package metrics provides Prometheus instrumentation for the predictions service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundsIngested counts round snapshots stored, by settlement state.
	RoundsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_rounds_ingested_total",
		Help: "Round snapshots stored",
	}, []string{"settled"})

	// BetsRecorded counts bets recorded, by position.
	BetsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_bets_recorded_total",
		Help: "Bets recorded",
	}, []string{"position"})

	// BetResults counts bet-detail views served, by result.
	BetResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_bet_results_total",
		Help: "Bet detail views served by result",
	}, []string{"result"})

	// CurrentEpoch is the highest epoch stored.
	CurrentEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictions_current_epoch",
		Help: "Highest known round epoch",
	})

	// CountdownSeconds is the remaining time to the current round lock.
	CountdownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictions_countdown_seconds",
		Help: "Seconds remaining until the latest round locks",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictions_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictions_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps user addresses and epochs out of the labels.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
