// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapattend_scans_total",
		Help: "Card scans by outcome.",
	}, []string{"outcome"})

	ReaderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapattend_reader_errors_total",
		Help: "Failed reader polls by reader.",
	}, []string{"reader"})

	LoopIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapattend_loop_iterations_total",
		Help: "Scan loop iterations.",
	})

	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapattend_session_active",
		Help: "1 while an attendance session accepts scans.",
	})

	ReportJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapattend_report_jobs_total",
		Help: "Report jobs handled by kind and result.",
	}, []string{"kind", "result"})
)
