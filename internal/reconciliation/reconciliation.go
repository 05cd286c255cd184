// Package reconciliation derives withdrawal totals from the withdrawals
// table and checks stored wallet balances against them.
//
// The wallet row caches a balance for cheap reads; the withdrawals table
// is the authority on what left each wallet. Available balance is always
// recomputed from it rather than trusted from a counter.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/wallet"
)

// WalletSource lists wallets and their stored balances.
type WalletSource interface {
	GetWallet(ctx context.Context, partnerID string) (*wallet.Wallet, error)
	ListWallets(ctx context.Context) ([]*wallet.Wallet, error)
}

// WithdrawalSummer returns the sum of a partner's non-rejected
// withdrawal amounts.
type WithdrawalSummer interface {
	SumNonRejected(ctx context.Context, partnerID string) (string, error)
}

// PartnerResult holds the reconciliation outcome for one wallet.
type PartnerResult struct {
	PartnerID      string `json:"partnerId"`
	Balance        string `json:"balance"`        // Stored on the wallet row
	TotalEarnings  string `json:"totalEarnings"`  // Lifetime credits
	TotalWithdrawn string `json:"totalWithdrawn"` // Derived from withdrawals
	Expected       string `json:"expected"`       // totalEarnings - totalWithdrawn
	Drift          bool   `json:"drift"`
}

// Service answers reconciliation queries for a single partner.
type Service struct {
	wallets     WalletSource
	withdrawals WithdrawalSummer
}

// NewService creates a reconciliation service.
func NewService(wallets WalletSource, withdrawals WithdrawalSummer) *Service {
	return &Service{wallets: wallets, withdrawals: withdrawals}
}

// TotalWithdrawn returns the derived sum of a partner's non-rejected
// withdrawals.
func (s *Service) TotalWithdrawn(ctx context.Context, partnerID string) (string, error) {
	sum, err := s.withdrawals.SumNonRejected(ctx, partnerID)
	if err != nil {
		return "", fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return sum, nil
}

// AvailableBalance recomputes what a partner can withdraw:
// max(0, totalEarnings - totalWithdrawn).
func (s *Service) AvailableBalance(ctx context.Context, partnerID string) (string, error) {
	w, err := s.wallets.GetWallet(ctx, partnerID)
	if err != nil {
		return "", fmt.Errorf("failed to get wallet: %w", err)
	}
	withdrawn, err := s.TotalWithdrawn(ctx, partnerID)
	if err != nil {
		return "", err
	}
	return derive(w.TotalEarnings, withdrawn), nil
}

// Check reconciles one wallet's stored balance against the derived value.
func (s *Service) Check(ctx context.Context, partnerID string) (*PartnerResult, error) {
	w, err := s.wallets.GetWallet(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return s.check(ctx, w)
}

func (s *Service) check(ctx context.Context, w *wallet.Wallet) (*PartnerResult, error) {
	withdrawn, err := s.TotalWithdrawn(ctx, w.PartnerID)
	if err != nil {
		return nil, err
	}

	expected := derive(w.TotalEarnings, withdrawn)
	stored, _ := money.Parse(w.Balance)
	want, _ := money.Parse(expected)

	return &PartnerResult{
		PartnerID:      w.PartnerID,
		Balance:        w.Balance,
		TotalEarnings:  w.TotalEarnings,
		TotalWithdrawn: withdrawn,
		Expected:       expected,
		Drift:          stored.Cmp(want) != 0,
	}, nil
}

// derive computes max(0, earnings - withdrawn) on decimal strings.
func derive(earnings, withdrawn string) string {
	e, _ := money.Parse(earnings)
	wd, _ := money.Parse(withdrawn)

	diff := money.Sub(e, wd)
	if diff.Sign() < 0 {
		diff = big.NewInt(0)
	}
	return money.Format(diff)
}
