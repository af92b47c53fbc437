package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	pushEvents      *prometheus.CounterVec
	pageFetches     *prometheus.CounterVec
	readAcks        *prometheus.CounterVec
	sends           *prometheus.CounterVec
	uploadParts     *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	uploadFiles     *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
	storageBoot     *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_backend_requests_total",
			Help: "Backend REST calls by operation and status.",
		}, []string{"op", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_backend_request_duration_seconds",
			Help:    "Backend REST latency by operation.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_push_events_total",
			Help: "Push events ingested by kind and result.",
		}, []string{"kind", "result"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_page_fetches_total",
			Help: "History page fetches by outcome.",
		}, []string{"outcome"}),
		readAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_read_acks_total",
			Help: "Read acknowledgements by outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Message sends by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		uploadParts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_upload_parts_total",
			Help: "Uploaded chunks by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_upload_bytes_total",
			Help: "Bytes uploaded in completed chunks.",
		}),
		uploadFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_upload_files_total",
			Help: "Uploaded files by outcome.",
		}, []string{"outcome"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_room_state_changes_total",
			Help: "Conversation state transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		storageBoot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_object_storage_bootstrap_total",
			Help: "Object storage provider bootstrap attempts by mode, outcome and error code.",
		}, []string{"mode", "outcome", "code"}),
	}
	reg.MustRegister(
		m.backendRequests, m.backendLatency, m.pushEvents, m.pageFetches, m.readAcks,
		m.sends, m.uploadParts, m.uploadBytes, m.uploadFiles, m.stateChanges, m.storageBoot,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBackend(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(op, status).Inc()
	m.backendLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) IncPushEvent(kind, result string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncPageFetch(outcome string) {
	if m == nil {
		return
	}
	m.pageFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReadAck(outcome string) {
	if m == nil {
		return
	}
	m.readAcks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSend(entityType, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(entityType, outcome).Inc()
}

func (m *Metrics) ObserveUploadPart(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.uploadParts.WithLabelValues(outcome).Inc()
	if outcome == "ok" && bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) IncUploadFile(outcome string) {
	if m == nil {
		return
	}
	m.uploadFiles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncStateChange(action, outcome string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveStorageBootstrap(mode, outcome, code string) {
	if m == nil {
		return
	}
	m.storageBoot.WithLabelValues(mode, outcome, code).Inc()
}

// StartServer serves /metrics until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
}
