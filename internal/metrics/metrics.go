// Package metrics exposes the process's Prometheus gauges/counters and
// serves them, together with a readiness probe, over HTTP.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every gauge/counter/histogram the router emits. All of
// them are grounded directly in original_source's GRPC_TO_EDGE_SLOT_LAG
// gauge and its neighboring instrumentation.
type Metrics struct {
	SlotLag           *prometheus.GaugeVec
	DirtyRingQueue    prometheus.Gauge
	RoutesEmitted     prometheus.Counter
	CooldownEvents    *prometheus.CounterVec
	BundleSendLatency *prometheus.HistogramVec
}

// New registers and returns a fresh Metrics set against the default
// registry.
func New() *Metrics {
	return &Metrics{
		SlotLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringrouter_grpc_to_edge_slot_lag",
			Help: "Slots behind the feed's reported slot that the edge updater has processed, per DEX.",
		}, []string{"dex"}),
		DirtyRingQueue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ringrouter_dirty_ring_queue_depth",
			Help: "Number of rings currently marked dirty and awaiting a refresh pass.",
		}),
		RoutesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringrouter_routes_emitted_total",
			Help: "Total profitable routes emitted by the ring executor.",
		}),
		CooldownEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ringrouter_cooldown_events_total",
			Help: "Cooldowns applied to edges or rings, by reason.",
		}, []string{"reason"}),
		BundleSendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ringrouter_bundle_send_latency_seconds",
			Help:    "Latency of bundle submission per relay.",
			Buckets: prometheus.DefBuckets,
		}, []string{"relay"}),
	}
}

// Server serves /metrics and /healthz.
type Server struct {
	httpServer *http.Server
	ready      func() bool
}

// NewServer builds an HTTP server on addr. ready reports overall process
// readiness for /healthz.
func NewServer(addr string, ready func() bool) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ready: ready,
	}
}

// ListenAndServe blocks serving until the server errors or is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
