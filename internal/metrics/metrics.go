// Package metrics provides Prometheus metrics for the playground client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbound request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_requests_total",
			Help: "Total outbound HTTP requests by service and status",
		},
		[]string{"service", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_request_duration_seconds",
			Help:    "Outbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// Session metrics
	sessionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_session_attempts_total",
			Help: "Session bootstrap attempts",
		},
		[]string{"result"},
	)

	streamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_stream_messages_total",
			Help: "Inbound stream messages by kind",
		},
		[]string{"kind"},
	)

	// Upload metrics
	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_upload_bytes_total",
			Help: "Total bytes uploaded to the sandbox",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_uploads_total",
			Help: "Total file uploads to the sandbox",
		},
		[]string{"status"},
	)

	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_runs_total",
			Help: "Run requests by result",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_run_duration_seconds",
			Help:    "Time from run command until output settled",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Content metrics
	contentLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_content_loads_total",
			Help: "Lazy content loads by source and status",
		},
		[]string{"source", "status"},
	)

	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_project_saves_total",
			Help: "Project saves by status",
		},
		[]string{"status"},
	)

	consoleLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_console_lines_total",
			Help: "Lines appended to the console",
		},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an outbound request. Status 0 means the request
// never got a response.
func RecordRequest(service, method string, code int, duration time.Duration) {
	requestsTotal.WithLabelValues(service, method, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordSessionAttempt records one session bootstrap attempt.
func RecordSessionAttempt(success bool) {
	sessionAttemptsTotal.WithLabelValues(status(success)).Inc()
}

// RecordStreamMessage records an inbound stream message.
func RecordStreamMessage(kind string) {
	streamMessagesTotal.WithLabelValues(kind).Inc()
}

// RecordUpload records a file upload.
func RecordUpload(bytes int64, success bool) {
	if success {
		uploadBytes.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordRunStarted records a run command that reached the sandbox.
func RecordRunStarted() {
	runsTotal.WithLabelValues("started").Inc()
}

// RecordRunFailed records a run that was aborted before the command
// was sent.
func RecordRunFailed() {
	runsTotal.WithLabelValues("failed").Inc()
}

// RecordRunSettled records how long a run produced output.
func RecordRunSettled(duration time.Duration) {
	runDuration.Observe(duration.Seconds())
}

// RecordContentLoad records a lazy content load. Source is "storage" or
// "disk".
func RecordContentLoad(source string, success bool) {
	contentLoadsTotal.WithLabelValues(source, status(success)).Inc()
}

// RecordSave records a project save.
func RecordSave(success bool) {
	savesTotal.WithLabelValues(status(success)).Inc()
}

// RecordConsoleLine records a console append.
func RecordConsoleLine() {
	consoleLinesTotal.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, wrap func(http.Handler) http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var h http.Handler = mux
	if wrap != nil {
		h = wrap(h)
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
