package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type cacheMetrics struct {
	lookups       *prometheus.CounterVec
	commits       *prometheus.CounterVec
	buildWaits    prometheus.Counter
	inflight      prometheus.Gauge
	buildDuration prometheus.Histogram
}

var metrics cacheMetrics

func init() {
	f := promauto.With(prometheus.DefaultRegisterer)
	metrics = cacheMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortweaver",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      `The number of cache lookups, by result (hit, miss, error).`,
		}, []string{"result"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortweaver",
			Subsystem: "cache",
			Name:      "commits_total",
			Help:      `The number of built results published to the store, by outcome.`,
		}, []string{"outcome"}),
		buildWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortweaver",
			Subsystem: "cache",
			Name:      "build_waits_total",
			Help:      `The number of Acquire calls that found another builder in flight.`,
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cohortweaver",
			Subsystem: "cache",
			Name:      "builds_in_flight",
			Help:      `The number of fingerprints currently being built.`,
		}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cohortweaver",
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      `Time from Acquire to a successful Commit.`,
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}),
	}
}
