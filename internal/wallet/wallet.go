// Package wallet tracks delivery partner earnings balances.
//
// Flow:
//  1. Platform credits a partner after a completed delivery
//  2. Partner requests a withdrawal (debits balance)
//  3. Admin rejects a withdrawal (refunds balance)
//  4. Partner views balance and transaction history
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/pagination"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateRefund     = errors.New("refund already processed")
)

// Entry types recorded in the ledger.
const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
	EntryRefund = "refund"
)

// Entry represents a ledger entry
type Entry struct {
	ID          string    `json:"id"`
	PartnerID   string    `json:"partnerId"`
	Type        string    `json:"type"` // credit, debit, refund
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // withdrawal reference, delivery ID, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Wallet represents a partner's balance
type Wallet struct {
	PartnerID     string    `json:"partnerId"`
	Balance       string    `json:"balance"`       // Can be withdrawn
	TotalEarnings string    `json:"totalEarnings"` // Lifetime credits
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists wallet data
type Store interface {
	GetWallet(ctx context.Context, partnerID string) (*Wallet, error)
	Credit(ctx context.Context, partnerID, amount, reference, description string) error
	Debit(ctx context.Context, partnerID, amount, reference, description string) error
	Refund(ctx context.Context, partnerID, amount, reference, description string) error
	GetEntries(ctx context.Context, partnerID string, limit int, cursor *pagination.Cursor) ([]*Entry, error)
}

// Service manages partner wallets
type Service struct {
	store Store
}

// New creates a new wallet service
func New(store Store) *Service {
	return &Service{store: store}
}

// GetWallet returns a partner's current wallet
func (s *Service) GetWallet(ctx context.Context, partnerID string) (*Wallet, error) {
	return s.store.GetWallet(ctx, partnerID)
}

// Credit adds earnings to a partner's wallet (called after a completed delivery)
func (s *Service) Credit(ctx context.Context, partnerID, amount, reference, description string) error {
	amountBig, ok := money.Parse(amount)
	if !ok || !money.IsPositive(amountBig) {
		return ErrInvalidAmount
	}

	return s.store.Credit(ctx, partnerID, money.Format(amountBig), reference, description)
}

// Debit removes funds from a partner's wallet (called when a withdrawal is requested)
func (s *Service) Debit(ctx context.Context, partnerID, amount, reference, description string) error {
	amountBig, ok := money.Parse(amount)
	if !ok || !money.IsPositive(amountBig) {
		return ErrInvalidAmount
	}

	// Check balance first for a friendly error; the store enforces
	// non-negativity regardless.
	w, err := s.store.GetWallet(ctx, partnerID)
	if err != nil {
		return err
	}

	balanceBig, _ := money.Parse(w.Balance)
	if balanceBig.Cmp(amountBig) < 0 {
		return ErrInsufficientBalance
	}

	return s.store.Debit(ctx, partnerID, money.Format(amountBig), reference, description)
}

// Refund credits back a partner's wallet (called when a withdrawal is rejected)
func (s *Service) Refund(ctx context.Context, partnerID, amount, reference, description string) error {
	amountBig, ok := money.Parse(amount)
	if !ok || !money.IsPositive(amountBig) {
		return ErrInvalidAmount
	}

	return s.store.Refund(ctx, partnerID, money.Format(amountBig), reference, description)
}

// GetEntries returns ledger entries for a partner, newest first, with an
// opaque cursor for the next page.
func (s *Service) GetEntries(ctx context.Context, partnerID string, limit int, cursorStr string) ([]*Entry, string, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	// Fetch one extra row to detect whether another page exists.
	items, err := s.store.GetEntries(ctx, partnerID, limit+1, cursor)
	if err != nil {
		return nil, "", err
	}

	items, next, _ := pagination.ComputePage(items, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return items, next, nil
}

// CanWithdraw checks if a partner has sufficient balance
func (s *Service) CanWithdraw(ctx context.Context, partnerID, amount string) (bool, error) {
	amountBig, ok := money.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}

	w, err := s.store.GetWallet(ctx, partnerID)
	if err != nil {
		return false, err
	}

	balanceBig, _ := money.Parse(w.Balance)
	return balanceBig.Cmp(amountBig) >= 0, nil
}
