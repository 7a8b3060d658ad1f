// Package metrics exposes the service's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	resolutions     *prometheus.CounterVec
	staleDiscards   prometheus.Counter
	classified      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	sessionWatchers prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mise",
			Name:      "profile_resolutions_total",
			Help:      "Profile resolutions by outcome.",
		}, []string{"outcome"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mise",
			Name:      "stale_resolutions_total",
			Help:      "Resolutions dropped because a newer session arrived first.",
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mise",
			Name:      "classified_errors_total",
			Help:      "User-facing errors by category.",
		}, []string{"category"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mise",
			Name:      "rate_limit_rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		sessionWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mise",
			Name:      "session_stream_clients",
			Help:      "Connected session event stream clients.",
		}),
	}

	reg.MustRegister(
		c.resolutions,
		c.staleDiscards,
		c.classified,
		c.rateLimited,
		c.sessionWatchers,
	)

	return c
}

func (c *Collector) ResolutionObserved(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

func (c *Collector) StaleDiscarded() {
	c.staleDiscards.Inc()
}

func (c *Collector) ErrorClassified(category string) {
	c.classified.WithLabelValues(category).Inc()
}

func (c *Collector) RateLimitRejected(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

func (c *Collector) StreamClientsChanged(delta int) {
	c.sessionWatchers.Add(float64(delta))
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
