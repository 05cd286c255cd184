package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileWalletsChecked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetpay",
		Subsystem: "reconciliation",
		Name:      "wallets_checked",
		Help:      "Number of wallets checked in the last reconciliation run.",
	})

	reconcileDriftedWallets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetpay",
		Subsystem: "reconciliation",
		Name:      "drifted_wallets",
		Help:      "Number of wallets whose stored balance disagreed with the ledger in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetpay",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetpay",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileWalletsChecked,
		reconcileDriftedWallets,
		reconcileDuration,
		reconcileErrors,
	)
}
