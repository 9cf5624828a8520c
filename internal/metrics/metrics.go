// Package metrics exposes Prometheus instruments for the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nftrarity"

// Metrics holds every instrument. All methods are safe on a nil receiver.
type Metrics struct {
	stakeOps          *prometheus.CounterVec
	authVerifications *prometheus.CounterVec
	accrualRuns       prometheus.Counter
	accrualFailures   prometheus.Counter
	accrualDuration   prometheus.Histogram
	accrualPoints     prometheus.Counter
	rebuildDuration   prometheus.Histogram
	rankedItems       prometheus.Gauge
	rankingVersion    prometheus.Gauge
	indexedItems      *prometheus.CounterVec
}

// New registers all instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stakeOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_operations_total",
			Help:      "Stake and unstake attempts by result code.",
		}, []string{"op", "result"}),
		authVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verifications_total",
			Help:      "Signature verifications by result.",
		}, []string{"result"}),
		accrualRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_runs_total",
			Help:      "Completed accrual passes.",
		}),
		accrualFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_user_failures_total",
			Help:      "Users whose accrual step failed.",
		}),
		accrualDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "accrual_duration_seconds",
			Help:      "Wall time of an accrual pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		accrualPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_points_total",
			Help:      "Points credited across all runs.",
		}),
		rebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_rebuild_duration_seconds",
			Help:      "Wall time of a ranking rebuild.",
			Buckets:   prometheus.DefBuckets,
		}),
		rankedItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ranked_items",
			Help:      "Items in the live ranking.",
		}),
		rankingVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ranking_version",
			Help:      "Version of the live ranking snapshot.",
		}),
		indexedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_items_total",
			Help:      "Items processed by the indexer by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) StakeOperation(op, result string) {
	if m == nil {
		return
	}
	m.stakeOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AuthVerification(result string) {
	if m == nil {
		return
	}
	m.authVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) AccrualRun(took time.Duration, failures int, points float64) {
	if m == nil {
		return
	}
	m.accrualRuns.Inc()
	m.accrualFailures.Add(float64(failures))
	m.accrualDuration.Observe(took.Seconds())
	m.accrualPoints.Add(points)
}

func (m *Metrics) RankingRebuilt(took time.Duration, items int, version int64) {
	if m == nil {
		return
	}
	m.rebuildDuration.Observe(took.Seconds())
	m.rankedItems.Set(float64(items))
	m.rankingVersion.Set(float64(version))
}

func (m *Metrics) ItemIndexed(outcome string) {
	if m == nil {
		return
	}
	m.indexedItems.WithLabelValues(outcome).Inc()
}
