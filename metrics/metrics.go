// Package metrics provides Prometheus metrics for the fsmcp server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaharia-lab/fsmcp"
	"github.com/shaharia-lab/fsmcp/cache"
	"github.com/shaharia-lab/fsmcp/pathguard"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmcp_tool_calls_total",
			Help: "Total tools/call requests by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsmcp_tool_call_duration_seconds",
			Help:    "Tool execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	pathDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsmcp_path_denials_total",
			Help: "Paths refused by the guard, by reason",
		},
		[]string{"reason"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordToolCall records one finished tools/call. It has the shape of
// fsmcp.CallObserver.
func RecordToolCall(tool string, outcome fsmcp.CallOutcome, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, string(outcome)).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordDenial records a path refused by the guard. It has the shape of
// pathguard.Config.OnDeny.
func RecordDenial(reason pathguard.Reason) {
	pathDenialsTotal.WithLabelValues(string(reason)).Inc()
}

// Sources are read at scrape time.
type Sources struct {
	CacheStats   func() cache.Stats
	PoolInFlight func() int64
}

// RegisterSources exports cache and pool state on reg, normally
// prometheus.DefaultRegisterer. Call it once per registry.
func RegisterSources(reg prometheus.Registerer, src Sources) error {
	var collectors []prometheus.Collector

	if src.CacheStats != nil {
		stats := src.CacheStats
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "fsmcp_cache_entries",
				Help: "File metadata entries currently cached",
			}, func() float64 { return float64(stats().Entries) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "fsmcp_cache_hits_total",
				Help: "File metadata cache hits",
			}, func() float64 { return float64(stats().Hits) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "fsmcp_cache_misses_total",
				Help: "File metadata cache misses, including expired entries",
			}, func() float64 { return float64(stats().Misses) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "fsmcp_cache_evictions_total",
				Help: "Entries evicted to stay within the cache capacity",
			}, func() float64 { return float64(stats().Evictions) }),
		)
	}

	if src.PoolInFlight != nil {
		inFlight := src.PoolInFlight
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fsmcp_pool_in_flight",
			Help: "Filesystem work items currently running in the worker pool",
		}, func() float64 { return float64(inFlight()) }))
	}

	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger fsmcp.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(map[string]interface{}{"addr": addr}).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
