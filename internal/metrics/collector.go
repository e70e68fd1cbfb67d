// Package metrics exposes Prometheus metrics for the chat relay and the
// upstream client.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests and tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_gateway"

// Collector owns every metric on a private registry.
type Collector struct {
	registry *prometheus.Registry

	chatTurns        *prometheus.CounterVec
	activeStreams    prometheus.Gauge
	fragments        prometheus.Counter
	streamDuration   prometheus.Histogram
	persistedReplies *prometheus.CounterVec

	upstreamAttempts     *prometheus.CounterVec
	upstreamErrors       *prometheus.CounterVec
	sessionInvalidations prometheus.Counter
	rateLimitWait        prometheus.Histogram
}

// NewCollector registers all metrics on registry. A nil registry gets a fresh
// one with the Go and process collectors attached.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &Collector{
		registry: registry,
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat calls that reached the streaming phase, by outcome.",
		}, []string{"outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat streams currently relaying.",
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Text fragments relayed to clients.",
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time of a relayed chat stream.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}),
		persistedReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_replies_total",
			Help:      "Assistant reply persistence results.",
		}, []string{"result"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream request attempts, by result.",
		}, []string{"result"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Fatal upstream errors surfaced to the relay, by kind.",
		}, []string{"kind"}),
		sessionInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "session_invalidations_total",
			Help:      "Cached upstream sessions dropped after a failure.",
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a dispatch slot.",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	registry.MustRegister(
		c.chatTurns,
		c.activeStreams,
		c.fragments,
		c.streamDuration,
		c.persistedReplies,
		c.upstreamAttempts,
		c.upstreamErrors,
		c.sessionInvalidations,
		c.rateLimitWait,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// StreamStarted marks a relay entering the streaming phase and returns the
// function that closes it with an outcome label.
func (c *Collector) StreamStarted() func(outcome string) {
	if c == nil {
		return func(string) {}
	}
	start := time.Now()
	c.activeStreams.Inc()
	return func(outcome string) {
		c.activeStreams.Dec()
		c.streamDuration.Observe(time.Since(start).Seconds())
		c.chatTurns.WithLabelValues(outcome).Inc()
	}
}

// FragmentRelayed counts one fragment sent to a client.
func (c *Collector) FragmentRelayed() {
	if c == nil {
		return
	}
	c.fragments.Inc()
}

// ReplyPersisted records the outcome of the assistant-turn write.
func (c *Collector) ReplyPersisted(result string) {
	if c == nil {
		return
	}
	c.persistedReplies.WithLabelValues(result).Inc()
}

// UpstreamAttempt records the result of one upstream request attempt.
func (c *Collector) UpstreamAttempt(result string) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(result).Inc()
}

// UpstreamError records a fatal upstream error by kind.
func (c *Collector) UpstreamError(kind string) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(kind).Inc()
}

// SessionInvalidated counts a dropped upstream session.
func (c *Collector) SessionInvalidated() {
	if c == nil {
		return
	}
	c.sessionInvalidations.Inc()
}

// RateLimitWaited observes time spent queued behind the rate limiter.
func (c *Collector) RateLimitWaited(d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWait.Observe(d.Seconds())
}
