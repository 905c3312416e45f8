// Package metrics exposes queue activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrun/internal/logging"
	"qrun/internal/queue"
)

// Collector counts queue lifecycle events. It implements queue.Observer.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsDropped   prometheus.Counter
	jobsExpired   prometheus.Counter
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	queuesActive  prometheus.Gauge
	jobsPending   prometheus.Gauge
}

// NewCollector registers the qrun metrics on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrun_jobs_submitted_total",
			Help: "Jobs accepted into a queue.",
		}),
		jobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrun_jobs_dropped_total",
			Help: "Submissions discarded by the duplicate limit.",
		}),
		jobsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrun_jobs_expired_total",
			Help: "Jobs discarded because their TTL elapsed before they ran.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrun_jobs_started_total",
			Help: "Jobs spawned.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrun_jobs_finished_total",
			Help: "Jobs that left a queue after being dequeued, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrun_job_duration_seconds",
			Help:    "Wall time of executed jobs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		queuesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qrun_queues_active",
			Help: "Named queues currently registered.",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qrun_jobs_pending",
			Help: "Jobs waiting across all queues.",
		}),
	}
	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsDropped,
		c.jobsExpired,
		c.jobsStarted,
		c.jobsFinished,
		c.jobDuration,
		c.queuesActive,
		c.jobsPending,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe implements queue.Observer.
func (c *Collector) Observe(ev queue.Event) {
	switch ev.Kind {
	case queue.EventSubmitted:
		c.jobsSubmitted.Inc()
	case queue.EventDropped:
		c.jobsDropped.Inc()
	case queue.EventExpired:
		c.jobsExpired.Inc()
		c.jobsFinished.WithLabelValues(string(queue.OutcomeExpired)).Inc()
	case queue.EventStarted:
		c.jobsStarted.Inc()
	case queue.EventFinished:
		if ev.Run != nil {
			c.jobsFinished.WithLabelValues(string(ev.Run.Outcome)).Inc()
			if ev.Run.Outcome != queue.OutcomeSpawnFailed {
				c.jobDuration.Observe(ev.Run.Duration().Seconds())
			}
		}
	}
	c.queuesActive.Set(float64(ev.Queues))
	c.jobsPending.Set(float64(ev.Pending))
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on bind until ctx is done. An empty bind disables
// the endpoint and returns nil immediately.
func Serve(ctx context.Context, bind string, c *Collector, logger *slog.Logger) error {
	if bind == "" || c == nil {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "metrics")

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", bind, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics endpoint listening",
			logging.String("bind", listener.Addr().String()),
			logging.String(logging.FieldEventType, "metrics_listening"),
		)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics endpoint stopped", "metrics_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.bind"),
				logging.String(logging.FieldImpact, "metrics unavailable until restart"),
			)
		}
	}()
	return nil
}
