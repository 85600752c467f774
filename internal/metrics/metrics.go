// Package metrics exposes engine outcomes and charge backlog as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"

	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// BacklogSource reports how many uncategorized charges each customer has.
type BacklogSource interface {
	CountUncategorized(ctx context.Context) (map[string]int, error)
}

var _ engine.Observer = (*Collector)(nil)

// Collector records resolutions, previews, and apply runs, and refreshes the
// uncategorized backlog gauge from a BacklogSource.
type Collector struct {
	source BacklogSource

	resolutions   *prometheus.CounterVec
	previewed     *prometheus.CounterVec
	applyRuns     *prometheus.CounterVec
	applyCharges  *prometheus.CounterVec
	applyDuration prometheus.Histogram
	uncategorized *prometheus.GaugeVec
}

// New creates a collector. A nil source disables the backlog gauge.
func New(source BacklogSource) *Collector {
	c := &Collector{source: source}

	c.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargemap",
		Name:      "resolutions_total",
		Help:      "Charges resolved, by customer and matched scope (none when no rule matched)",
	}, []string{"customer", "scope"})

	c.previewed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargemap",
		Name:      "previewed_changes_total",
		Help:      "Classification changes shown by previews, by customer",
	}, []string{"customer"})

	c.applyRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargemap",
		Name:      "apply_runs_total",
		Help:      "Finished apply runs, by customer",
	}, []string{"customer"})

	c.applyCharges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargemap",
		Name:      "apply_charges_total",
		Help:      "Charges written by apply runs, by customer and outcome (succeeded|failed)",
	}, []string{"customer", "outcome"})

	c.applyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chargemap",
		Name:      "apply_duration_seconds",
		Help:      "Wall time of apply runs",
		Buckets:   prometheus.DefBuckets,
	})

	c.uncategorized = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chargemap",
		Name:      "uncategorized_charges",
		Help:      "Charges still classified as ch.uncategorized_charge, by customer",
	}, []string{"customer"})

	return c
}

// Register adds every metric to reg. It panics on duplicate registration.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.resolutions,
		c.previewed,
		c.applyRuns,
		c.applyCharges,
		c.applyDuration,
		c.uncategorized,
	)
}

// Refresh recomputes the backlog gauge (call on each scrape).
func (c *Collector) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}

	counts, err := c.source.CountUncategorized(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh uncategorized backlog: %w", err)
	}

	c.uncategorized.Reset()
	for customer, n := range counts {
		c.uncategorized.WithLabelValues(customer).Set(float64(n))
	}
	return nil
}

// ObserveResolution counts one resolved charge.
func (c *Collector) ObserveResolution(customer string, res model.Resolution) {
	scope := "none"
	if res.Matched() {
		scope = string(res.MatchedScope)
	}
	c.resolutions.WithLabelValues(customer, scope).Inc()
}

// ObservePreview counts the changes a preview reported.
func (c *Collector) ObservePreview(customer string, changes int) {
	c.previewed.WithLabelValues(customer).Add(float64(changes))
}

// ObserveApply records a finished apply run.
func (c *Collector) ObserveApply(result *model.ApplyResult) {
	if result == nil {
		return
	}
	c.applyRuns.WithLabelValues(result.CustomerName).Inc()
	c.applyCharges.WithLabelValues(result.CustomerName, "succeeded").Add(float64(len(result.Succeeded)))
	c.applyCharges.WithLabelValues(result.CustomerName, "failed").Add(float64(len(result.Failed)))
	if !result.FinishedAt.IsZero() && !result.StartedAt.IsZero() {
		c.applyDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	}
}
