// Package payout settles completed withdrawals through Stripe.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/fleetpay/fleetpay/internal/metrics"
	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/retry"
	"github.com/fleetpay/fleetpay/internal/withdrawal"
)

const (
	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
)

// StripeExecutor implements withdrawal.PayoutExecutor against the Stripe
// Payouts API.
type StripeExecutor struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeExecutor creates a Stripe-backed payout executor.
func NewStripeExecutor(apiKey string, logger *slog.Logger) *StripeExecutor {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeExecutor{api: api, logger: logger}
}

// Execute creates a Stripe payout for the withdrawal and returns its ID.
// The withdrawal reference doubles as the idempotency key, so a retried
// call can never pay out twice.
func (e *StripeExecutor) Execute(ctx context.Context, w *withdrawal.Withdrawal) (string, error) {
	amount, ok := money.Parse(w.Amount)
	if !ok {
		return "", fmt.Errorf("unparseable payout amount %q", w.Amount)
	}

	params := &stripe.PayoutParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:      stripe.Int64(amount.Int64()),
		Currency:    stripe.String(string(stripe.CurrencyINR)),
		Description: stripe.String("withdrawal " + w.Reference),
	}
	params.SetIdempotencyKey(w.Reference)
	params.AddMetadata("withdrawalId", w.ID)
	params.AddMetadata("partnerId", w.PartnerID)

	var payoutID string
	err := retry.Do(ctx, maxAttempts, baseDelay, func() error {
		p, err := e.api.Payouts.New(params)
		if err != nil {
			if !isRetryable(err) {
				return retry.Permanent(err)
			}
			e.logger.Warn("stripe payout attempt failed",
				"withdrawal", w.ID, "error", err)
			return err
		}
		payoutID = p.ID
		return nil
	})
	if err != nil {
		metrics.PayoutExecutionsTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("stripe payout failed: %w", err)
	}

	metrics.PayoutExecutionsTotal.WithLabelValues("success").Inc()
	e.logger.Info("stripe payout created",
		"withdrawal", w.ID, "payout", payoutID, "amount", w.Amount)
	return payoutID, nil
}

// isRetryable classifies Stripe failures. Validation and card errors will
// fail the same way every time; rate limits and API hiccups will not.
func isRetryable(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Network-level failure
		return true
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard, stripe.ErrorTypeIdempotency:
		return false
	}
	return true
}
