package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector on a caller-provided registry.
type Prometheus struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	events       *prometheus.CounterVec
	budget       *prometheus.GaugeVec
	usage        *prometheus.GaugeVec
	remaining    prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates the allocator metrics and registers them on reg
// (prometheus.DefaultRegisterer if nil). namespace defaults to "allocator".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "allocator"
	}

	p := &Prometheus{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total ticks by result (ok, dry_run, error).",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a tick in seconds, including external queries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events handed to notification dispatch by kind.",
		}, []string{"kind"}),
		budget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_budget_su",
			Help:      "Budget of each group in the active period.",
		}, []string{"group"}),
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_usage_su",
			Help:      "Period-relative usage of each group in the active period.",
		}, []string{"group"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quarter_remaining_supply_su",
			Help:      "Remaining supply of the current quarter at quarter start.",
		}),
	}

	for _, c := range []prometheus.Collector{p.ticks, p.tickDuration, p.events, p.budget, p.usage, p.remaining} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) TickCompleted(result string, duration time.Duration) {
	p.ticks.WithLabelValues(result).Inc()
	p.tickDuration.Observe(duration.Seconds())
}

func (p *Prometheus) EventEmitted(kind string) {
	p.events.WithLabelValues(kind).Inc()
}

func (p *Prometheus) GroupBudget(group string, su float64) {
	p.budget.WithLabelValues(group).Set(su)
}

func (p *Prometheus) GroupUsage(group string, su float64) {
	p.usage.WithLabelValues(group).Set(su)
}

func (p *Prometheus) RemainingSupply(su float64) {
	p.remaining.Set(su)
}
