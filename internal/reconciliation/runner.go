package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetpay/fleetpay/internal/metrics"
)

// Report is the outcome of one reconciliation sweep.
type Report struct {
	RanAt          time.Time        `json:"ranAt"`
	WalletsChecked int              `json:"walletsChecked"`
	DriftCount     int              `json:"driftCount"`
	Drifted        []*PartnerResult `json:"drifted,omitempty"`
	Duration       string           `json:"duration"`
}

// Runner sweeps every wallet and reports balances that disagree with the
// derived ledger value.
type Runner struct {
	service *Service
	logger  *slog.Logger
}

// NewRunner creates a reconciliation runner.
func NewRunner(service *Service, logger *slog.Logger) *Runner {
	return &Runner{service: service, logger: logger}
}

// RunAll checks every wallet once and updates the drift gauges.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()

	wallets, err := r.service.wallets.ListWallets(ctx)
	if err != nil {
		reconcileErrors.Inc()
		metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	report := &Report{RanAt: start}
	for _, w := range wallets {
		result, err := r.service.check(ctx, w)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("reconciliation check failed", "partner", w.PartnerID, "error", err)
			continue
		}
		report.WalletsChecked++
		if result.Drift {
			report.DriftCount++
			report.Drifted = append(report.Drifted, result)
			metrics.ReconciliationDriftTotal.Inc()
			r.logger.Warn("wallet balance drift",
				"partner", result.PartnerID,
				"stored", result.Balance,
				"expected", result.Expected,
				"totalWithdrawn", result.TotalWithdrawn)
		}
	}

	elapsed := time.Since(start)
	report.Duration = elapsed.String()

	reconcileWalletsChecked.Set(float64(report.WalletsChecked))
	reconcileDriftedWallets.Set(float64(report.DriftCount))
	reconcileDuration.Observe(elapsed.Seconds())
	if report.DriftCount > 0 {
		metrics.ReconciliationRunsTotal.WithLabelValues("drift").Inc()
	} else {
		metrics.ReconciliationRunsTotal.WithLabelValues("clean").Inc()
	}

	r.logger.Info("reconciliation run complete",
		"wallets", report.WalletsChecked,
		"drifted", report.DriftCount,
		"duration", report.Duration)

	return report, nil
}
