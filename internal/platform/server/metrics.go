package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wizardbeard/onepass/internal/platform/discovery"
	"github.com/wizardbeard/onepass/internal/platform/upstream"
)

type Metrics struct {
	probesTotal         *prometheus.CounterVec
	probesInFlight      prometheus.Gauge
	discoveredCents     prometheus.Counter
	batchesTotal        *prometheus.CounterVec
	batchUsersTotal     prometheus.Counter
	finishAttemptsTotal *prometheus.CounterVec
	tradesTotal         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "probe",
				Name:      "attempts_total",
				Help:      "Total getPay attempts partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		probesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "onepass",
				Subsystem: "probe",
				Name:      "in_flight",
				Help:      "Probes currently awaiting an upstream response.",
			},
		),
		discoveredCents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "batch",
				Name:      "discovered_cents_total",
				Help:      "Total cents drained from the upstream and credited.",
			},
		),
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "batch",
				Name:      "requests_total",
				Help:      "Batch admissions partitioned by result.",
			},
			[]string{"result"},
		),
		batchUsersTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "batch",
				Name:      "users_total",
				Help:      "User discoveries started across all batches.",
			},
		),
		finishAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "batch",
				Name:      "finish_attempts_total",
				Help:      "batchPayFinish attempts partitioned by result.",
			},
			[]string{"result"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onepass",
				Subsystem: "trade",
				Name:      "requests_total",
				Help:      "Trade requests partitioned by result.",
			},
			[]string{"result"},
		),
	}
}

// meteredProber wraps the upstream client so every probe attempt is
// counted without the discovery engine knowing about prometheus.
type meteredProber struct {
	next    discovery.Prober
	metrics *Metrics
}

// NewMeteredProber decorates p with probe metrics.
func NewMeteredProber(p discovery.Prober, m *Metrics) discovery.Prober {
	return &meteredProber{next: p, metrics: m}
}

func (p *meteredProber) GetPay(ctx context.Context, uid, amount int64, corrID string) upstream.Outcome {
	p.metrics.probesInFlight.Inc()
	out := p.next.GetPay(ctx, uid, amount, corrID)
	p.metrics.probesInFlight.Dec()
	p.metrics.probesTotal.WithLabelValues(out.Class.String()).Inc()
	return out
}
