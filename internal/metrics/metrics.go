package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BundleBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovbuild_bundle_build_failed",
			Help: "Number of times a bundle has failed to assemble",
		},
		[]string{"bundle"},
	)

	BundleBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ovbuild_bundle_build_duration_seconds",
			Help:    "Bundle assembly duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"bundle"},
	)

	TargetBuildCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovbuild_target_build_count",
			Help: "Total number of target builds, by target and result",
		},
		[]string{"target", "result"},
	)

	TargetBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ovbuild_target_build_duration_seconds",
			Help:    "Target assembly duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"target"},
	)

	RebuildsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ovbuild_watch_rebuilds_triggered",
			Help: "Number of rebuilds triggered by the file watcher",
		},
	)
)
