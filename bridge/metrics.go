package bridge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrbridge",
		Subsystem: "bridge",
		Name:      "proxied_requests_total",
		Help:      "Total requests forwarded to a downstream, by status code.",
	}, []string{"downstream", "code"})
	proxiedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "xrbridge",
		Subsystem: "bridge",
		Name:      "proxied_request_duration_seconds",
		Help:      "Duration of proxied downstream requests.",
	}, []string{"downstream"})
	healthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrbridge",
		Subsystem: "bridge",
		Name:      "health_transitions_total",
		Help:      "Downstream health state flips observed by the monitor.",
	}, []string{"downstream", "to"})
	initializeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrbridge",
		Subsystem: "bridge",
		Name:      "initialize_attempts_total",
		Help:      "Downstream initialization attempts, by result.",
	}, []string{"downstream", "result"})
)

// observer captures the status code and duration of one proxied request.
type observer struct {
	downstream string
	start      time.Time
	code       int
}

func proxyObserver(downstream string) *observer {
	return &observer{downstream: downstream, start: time.Now(), code: http.StatusOK}
}

func (o *observer) wrap(w http.ResponseWriter) http.ResponseWriter {
	return &statusWriter{ResponseWriter: w, o: o}
}

func (o *observer) finish() {
	proxiedRequests.WithLabelValues(o.downstream, strconv.Itoa(o.code)).Inc()
	proxiedDuration.WithLabelValues(o.downstream).Observe(time.Since(o.start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	o *observer
}

func (w *statusWriter) WriteHeader(code int) {
	w.o.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
