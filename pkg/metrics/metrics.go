// Package metrics exposes the Prometheus metrics of an audit run.
// Metrics are defined with promauto in the packages that record them
// (client, cache, ratelimit, pagination, audit); this package only serves them.
//
// Request Metrics (pkg/client):
//   - firm_audit_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - firm_audit_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - firm_audit_errors_total{class} (Counter): Failed requests by error class
//
// Retry Metrics (pkg/client):
//   - firm_audit_retries_total{error_class} (Counter): Retry attempts by error class
//   - firm_audit_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - firm_audit_retry_exhausted_total{error_class} (Counter): Requests that exhausted their retries
//
// Cache Metrics (pkg/cache):
//   - firm_audit_cache_hits_total (Counter)
//   - firm_audit_cache_misses_total (Counter)
//   - firm_audit_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - firm_audit_cache_errors_total{operation} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - firm_audit_rate_limit_remaining (Gauge): Last advertised remaining quota
//   - firm_audit_rate_limit_waits_total (Counter): Requests delayed until the window reset
//
// Audit Metrics (pkg/pagination, pkg/audit):
//   - firm_audit_listing_pages_total (Counter)
//   - firm_audit_entities_total{outcome} (Counter): Firms by outcome (missing, clean, error)
//   - firm_audit_workers_busy (Gauge): Workers currently fetching a detail record
//
// Example Prometheus Queries:
//
//	# Detail error rate
//	rate(firm_audit_entities_total{outcome="error"}[5m])
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(firm_audit_request_duration_seconds_bucket[5m]))
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler serves the default gatherer, where every package's promauto
// metrics land, in the Prometheus text format. A collector that fails to
// gather does not hide the others.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Server serves /metrics for the lifetime of a run.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// Start listens on addr and serves /metrics in the background.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
