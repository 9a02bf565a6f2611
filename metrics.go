package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recstatus/stats"
)

// Purpose: Serve the session counters on /metrics for Prometheus.
// Key aspects: Private registry; listener errors surface at startup, serve
// errors are logged.
// Upstream: main when metrics.enabled is set.
// Downstream: stats.Tracker.Registry, promhttp.HandlerFor.
func startMetricsServer(listen string, tracker *stats.Tracker, logger *log.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(tracker.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics server stopped: %v", err)
		}
	}()
	return srv, ln.Addr(), nil
}

func stopMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
