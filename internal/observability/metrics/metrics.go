// Package metrics exposes retention activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"devour/internal/eventbus"
	"devour/internal/notifier"
	"devour/internal/purge"
	"devour/internal/sweep"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devour"

// Metrics holds the collectors and their registry.
type Metrics struct {
	SweepsTotal      *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec
	DeletedTotal     *prometheus.CounterVec
	VanishedTotal    prometheus.Counter
	RateLimitRetries prometheus.Counter
	SweepAttempt     prometheus.Histogram

	TicksTotal          prometheus.Counter
	DispatchedTotal     prometheus.Counter
	SkippedTotal        prometheus.Counter
	DispatchFailedTotal prometheus.Counter
	Policies            prometheus.Gauge

	CacheRefreshes prometheus.Counter
	AlertsTotal    *prometheus.CounterVec
	ConfigReloads  prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_total",
			Help: "Finished channel sweeps by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Wall-clock duration of channel sweeps by outcome.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		DeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_deleted_total",
			Help: "Messages deleted by delete mode.",
		}, []string{"mode"}),
		VanishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_vanished_total",
			Help: "Messages that were already gone when deleted.",
		}),
		RateLimitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_retries_total",
			Help: "Requests retried after a rate limit response.",
		}),
		SweepAttempt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_attempt",
			Help:    "Consecutive attempt number of finished sweeps.",
			Buckets: []float64{1, 2, 3, 5, 10, 20},
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Scheduler ticks.",
		}),
		DispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_dispatched_total",
			Help: "Sweeps handed to the worker pool.",
		}),
		SkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_skipped_total",
			Help: "Channels skipped because a sweep was still running.",
		}),
		DispatchFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_dispatch_failed_total",
			Help: "Sweeps that could not be handed to the worker pool.",
		}),
		Policies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "policies",
			Help: "Retention policies in the cache at the last tick.",
		}),
		CacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_refreshes_total",
			Help: "Successful policy cache refreshes.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Operator alerts by result.",
		}, []string{"result"}),
		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "config_reloads_total",
			Help: "Applied configuration reloads.",
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.SweepsTotal, m.SweepDuration, m.DeletedTotal, m.VanishedTotal, m.RateLimitRetries, m.SweepAttempt,
		m.TicksTotal, m.DispatchedTotal, m.SkippedTotal, m.DispatchFailedTotal, m.Policies,
		m.CacheRefreshes, m.AlertsTotal, m.ConfigReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSweep implements sweep.Observer.
func (m *Metrics) ObserveSweep(r purge.Result, attempt int) {
	outcome := r.Outcome.String()
	m.SweepsTotal.WithLabelValues(outcome).Inc()
	m.SweepDuration.WithLabelValues(outcome).Observe(r.Duration.Seconds())
	m.DeletedTotal.WithLabelValues("bulk").Add(float64(r.Bulk))
	m.DeletedTotal.WithLabelValues("single").Add(float64(r.Single))
	m.VanishedTotal.Add(float64(r.Vanished))
	m.RateLimitRetries.Add(float64(r.RateLimitRetries))
	m.SweepAttempt.Observe(float64(attempt))
}

// ObserveTick implements sweep.Observer.
func (m *Metrics) ObserveTick(r sweep.TickReport) {
	m.TicksTotal.Inc()
	m.DispatchedTotal.Add(float64(r.Dispatched))
	m.SkippedTotal.Add(float64(r.Skipped))
	m.DispatchFailedTotal.Add(float64(r.DispatchFailed))
	m.Policies.Set(float64(r.Policies))
}

// Observe counts bus events that have no direct hook.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeCacheRefreshed:
		m.CacheRefreshes.Inc()
	case eventbus.TypeConfigReloaded:
		m.ConfigReloads.Inc()
	case notifier.EventSent:
		m.AlertsTotal.WithLabelValues("sent").Inc()
	case notifier.EventFailed:
		m.AlertsTotal.WithLabelValues("failed").Inc()
	case notifier.EventDeduped:
		m.AlertsTotal.WithLabelValues("deduped").Inc()
	case notifier.EventDropped:
		m.AlertsTotal.WithLabelValues("dropped").Inc()
	}
}

// Run feeds bus events into Observe until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

var _ sweep.Observer = (*Metrics)(nil)
