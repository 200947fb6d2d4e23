// Package metrics exposes Prometheus counters for discovery and fetching.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/scout/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_provider_pages_total",
			Help: "Search provider page requests by outcome",
		},
		[]string{"outcome"},
	)

	FailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_credential_failovers_total",
			Help: "Times the provider chain moved to a secondary credential",
		},
	)

	FallbackSearchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_fallback_searches_total",
			Help: "Queries answered by the scraping fallback",
		},
	)

	DomainsFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_domains_found_total",
			Help: "Unique root domains added to the found set",
		},
		[]string{"source"},
	)

	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_fetch_requests_total",
			Help: "Page fetches by status and bot detection",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_fetch_bytes_total",
			Help: "Bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_proxy_failures_total",
			Help: "Proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)
)

// RecordFetch updates the fetch metrics from a processed record.
func RecordFetch(domain string, rec *storage.Record) {
	if rec == nil {
		return
	}

	status := strconv.Itoa(rec.StatusCode)
	if rec.Error != "" {
		status = "error"
	}

	FetchRequestsTotal.WithLabelValues(domain, status, strconv.FormatBool(rec.DetectedBot), rec.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(domain).Observe(rec.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(rec.Bytes))
}

// Handler serves the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Server exposes /metrics until its context ends.
type Server struct {
	addr   string
	logger *slog.Logger
}

// NewServer returns a server for port. Port 0 picks a free port.
func NewServer(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: fmt.Sprintf(":%d", port), logger: logger}
}

// Run listens and serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}

	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("metrics: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}
