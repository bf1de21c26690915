// Package metricsrv exposes operational counters over a Prometheus
// endpoint on a dedicated listener.
package metricsrv

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// ScansTotal counts completed scans by resulting status.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onionwatch",
		Name:      "scans_total",
		Help:      "Total completed scans by URL status.",
	}, []string{"status"})

	// ScanDuration tracks full pipeline latency.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "onionwatch",
		Name:      "scan_duration_seconds",
		Help:      "Scan pipeline duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsTotal counts emitted alerts by rule.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onionwatch",
		Name:      "alerts_total",
		Help:      "Total alerts emitted by alert type.",
	}, []string{"type"})

	// SchedulerDispatches counts monitor scans dispatched by the tick loop.
	SchedulerDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onionwatch",
		Name:      "scheduler_dispatches_total",
		Help:      "Total monitor scans dispatched by the scheduler.",
	})

	// WorkersInFlight tracks scheduler workers currently running a scan.
	WorkersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onionwatch",
		Name:      "scheduler_workers_in_flight",
		Help:      "Scheduler workers currently executing a scan.",
	})
)

const shutdownTimeout = 5 * time.Second

// Start serves /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func Start(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Metrics server stopped unexpectedly")
		}
	}()
}
