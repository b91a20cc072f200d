package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of the status pipeline. It is separate
// from the default registry so tests can gather it in isolation.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// HTTP client
	HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_http_requests_total",
			Help: "Total API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	// Job status poller
	PollChecksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_poll_checks_total",
			Help: "Status checks made by the job poller, by result",
		},
		[]string{"result"},
	)
	PollOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_poll_outcomes_total",
			Help: "Final outcomes reached by job pollers",
		},
		[]string{"outcome"},
	)

	// Live status stream
	StreamFramesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_stream_frames_total",
			Help: "Status frames received on live streams, by status",
		},
		[]string{"status"},
	)
	StreamReconnectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "factline_stream_reconnects_total",
			Help: "Reconnect attempts scheduled by stream clients",
		},
	)
	StreamFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "factline_stream_failures_total",
			Help: "Streams that gave up after exhausting reconnects",
		},
	)

	// Processing registry
	ActiveTrackers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "factline_active_trackers",
			Help: "Content items currently tracked by the processing registry",
		},
	)

	// Uploads and notifications
	UploadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_uploads_total",
			Help: "Upload submissions by content kind and result",
		},
		[]string{"kind", "result"},
	)
	UploadDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "factline_upload_duration_seconds",
			Help:    "Time from submission to a terminal processing status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind", "status"},
	)
	NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factline_notifications_total",
			Help: "Snackbars enqueued by severity",
		},
		[]string{"severity"},
	)
)

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
