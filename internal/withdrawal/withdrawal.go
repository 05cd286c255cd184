// Package withdrawal manages the partner withdrawal lifecycle.
//
// Flow:
//  1. Partner requests a withdrawal → wallet debited, status pending
//  2. Back office picks it up → processing
//  3. Payout settles → completed (terminal)
//  4. Back office rejects a pending request → wallet refunded, rejected (terminal)
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fleetpay/fleetpay/internal/idgen"
	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/syncutil"
)

var (
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrBelowMinimum         = errors.New("amount below minimum withdrawal")
	ErrAboveMaximum         = errors.New("amount above maximum withdrawal")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrMissingTransactionID = errors.New("transaction id required to complete withdrawal")
	ErrInvalidPayoutDetails = errors.New("invalid payout details for payment method")
	ErrInvalidStatusFilter  = errors.New("invalid status filter")
)

// Status represents the state of a withdrawal.
type Status string

const (
	StatusPending    Status = "pending"    // Requested, funds debited from wallet
	StatusProcessing Status = "processing" // Picked up by back office / payout provider
	StatusCompleted  Status = "completed"  // Funds settled to the partner
	StatusRejected   Status = "rejected"   // Declined, funds refunded to wallet
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// CanTransition reports whether moving from s to target is legal.
// Rejection is only possible while pending; once a payout is in flight
// the request has to run to completion or be resolved manually.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusRejected
	case StatusProcessing:
		return target == StatusCompleted
	}
	return false
}

// Payment methods supported for payouts.
const (
	MethodBankTransfer = "bank_transfer"
	MethodUPI          = "upi"
)

// BankDetails identifies a bank account payout destination.
type BankDetails struct {
	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
}

// UPIDetails identifies a UPI payout destination.
type UPIDetails struct {
	VPA string `json:"vpa"`
}

// Withdrawal represents a partner withdrawal request.
type Withdrawal struct {
	ID             string       `json:"id"`
	PartnerID      string       `json:"partnerId"`
	Amount         string       `json:"amount"`
	Status         Status       `json:"status"`
	PaymentMethod  string       `json:"paymentMethod"`
	BankDetails    *BankDetails `json:"bankDetails,omitempty"`
	UPIDetails     *UPIDetails  `json:"upiDetails,omitempty"`
	Reference      string       `json:"reference"`
	RequestedAt    time.Time    `json:"requestedAt"`
	ProcessedAt    *time.Time   `json:"processedAt,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
	RejectedAt     *time.Time   `json:"rejectedAt,omitempty"`
	RejectedReason string       `json:"rejectedReason,omitempty"`
	AdminNotes     string       `json:"adminNotes,omitempty"`
	TransactionID  string       `json:"transactionId,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Summary aggregates a partner's withdrawal history.
type Summary struct {
	TotalWithdrawn string         `json:"totalWithdrawn"` // Sum of non-rejected amounts
	TotalPending   string         `json:"totalPending"`   // Sum of pending amounts
	Counts         map[Status]int `json:"counts"`
}

// Store persists withdrawal data. CreateWithDebit and RejectWithRefund
// couple the withdrawal row with the corresponding wallet mutation in a
// single atomic step.
type Store interface {
	CreateWithDebit(ctx context.Context, w *Withdrawal) error
	Get(ctx context.Context, id string) (*Withdrawal, error)
	Update(ctx context.Context, w *Withdrawal) error
	RejectWithRefund(ctx context.Context, w *Withdrawal) error
	ListByPartner(ctx context.Context, partnerID string, limit int) ([]*Withdrawal, error)
	ListAll(ctx context.Context, status Status, limit int) ([]*Withdrawal, error)
	SumNonRejected(ctx context.Context, partnerID string) (string, error)
	Summarize(ctx context.Context, partnerID string) (*Summary, error)
}

// PayoutExecutor settles a withdrawal with an external payout provider.
// Nil executor means the back office supplies settlement IDs manually.
type PayoutExecutor interface {
	Execute(ctx context.Context, w *Withdrawal) (transactionID string, err error)
}

// CreateRequest contains the parameters for requesting a withdrawal.
type CreateRequest struct {
	PartnerID     string       `json:"-"`
	Amount        string       `json:"amount" binding:"required"`
	PaymentMethod string       `json:"paymentMethod" binding:"required"`
	BankDetails   *BankDetails `json:"bankDetails"`
	UPIDetails    *UPIDetails  `json:"upiDetails"`
}

// AdminInput carries the back-office parameters for a status transition.
type AdminInput struct {
	ActorID        string
	TransactionID  string
	RejectedReason string
	AdminNotes     string
}

// Service implements withdrawal business logic.
type Service struct {
	store     Store
	executor  PayoutExecutor
	minAmount *big.Int
	maxAmount *big.Int // nil = no cap
	locks     syncutil.ShardedMutex
}

// NewService creates a withdrawal service. minAmount is the deployment's
// minimum withdrawal ("100.00"); unparseable input falls back to zero.
func NewService(store Store, minAmount string) *Service {
	min, ok := money.Parse(minAmount)
	if !ok {
		min = big.NewInt(0)
	}
	return &Service{store: store, minAmount: min}
}

// WithExecutor adds a payout executor used on the completed transition.
func (s *Service) WithExecutor(e PayoutExecutor) *Service {
	s.executor = e
	return s
}

// WithMaxAmount caps single withdrawals. Empty or unparseable input
// leaves the cap disabled.
func (s *Service) WithMaxAmount(maxAmount string) *Service {
	if max, ok := money.Parse(maxAmount); ok && max.Sign() > 0 {
		s.maxAmount = max
	}
	return s
}

// Request validates and creates a withdrawal, debiting the partner's
// wallet atomically with the insert.
func (s *Service) Request(ctx context.Context, req CreateRequest) (*Withdrawal, error) {
	amountBig, ok := money.Parse(req.Amount)
	if !ok || !money.IsPositive(amountBig) {
		return nil, ErrInvalidAmount
	}
	if amountBig.Cmp(s.minAmount) < 0 {
		return nil, ErrBelowMinimum
	}
	if s.maxAmount != nil && amountBig.Cmp(s.maxAmount) > 0 {
		return nil, ErrAboveMaximum
	}
	if err := validatePayoutDetails(req); err != nil {
		return nil, err
	}

	now := time.Now()
	w := &Withdrawal{
		ID:            idgen.WithPrefix("wd_"),
		PartnerID:     req.PartnerID,
		Amount:        money.Format(amountBig),
		Status:        StatusPending,
		PaymentMethod: req.PaymentMethod,
		BankDetails:   req.BankDetails,
		UPIDetails:    req.UPIDetails,
		Reference:     NewReference(now),
		RequestedAt:   now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateWithDebit(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Transition applies an admin status change under a per-withdrawal lock.
func (s *Service) Transition(ctx context.Context, id string, target Status, input AdminInput) (*Withdrawal, error) {
	if !target.Valid() || target == StatusPending {
		return nil, ErrInvalidTransition
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !w.Status.CanTransition(target) {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	if input.AdminNotes != "" {
		w.AdminNotes = input.AdminNotes
	}

	switch target {
	case StatusProcessing:
		w.Status = StatusProcessing
		w.ProcessedAt = &now
		w.UpdatedAt = now
		if err := s.store.Update(ctx, w); err != nil {
			return nil, err
		}

	case StatusCompleted:
		txID := input.TransactionID
		if txID == "" {
			if s.executor == nil {
				return nil, ErrMissingTransactionID
			}
			txID, err = s.executor.Execute(ctx, w)
			if err != nil {
				return nil, fmt.Errorf("payout execution failed: %w", err)
			}
		}
		w.Status = StatusCompleted
		w.TransactionID = txID
		w.CompletedAt = &now
		w.UpdatedAt = now
		if err := s.store.Update(ctx, w); err != nil {
			return nil, err
		}

	case StatusRejected:
		w.Status = StatusRejected
		w.RejectedReason = input.RejectedReason
		w.RejectedAt = &now
		w.UpdatedAt = now
		// Refund and status flip commit together; a duplicate or failed
		// refund leaves the withdrawal untouched.
		if err := s.store.RejectWithRefund(ctx, w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Get returns a withdrawal by ID.
func (s *Service) Get(ctx context.Context, id string) (*Withdrawal, error) {
	return s.store.Get(ctx, id)
}

// ListByPartner returns a partner's withdrawals, newest first.
func (s *Service) ListByPartner(ctx context.Context, partnerID string, limit int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByPartner(ctx, partnerID, limit)
}

// ListAll returns withdrawals across all partners, optionally filtered
// by status. Admin use.
func (s *Service) ListAll(ctx context.Context, status Status, limit int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatusFilter
	}
	return s.store.ListAll(ctx, status, limit)
}

// Summary aggregates a partner's withdrawal totals.
func (s *Service) Summary(ctx context.Context, partnerID string) (*Summary, error) {
	return s.store.Summarize(ctx, partnerID)
}

func validatePayoutDetails(req CreateRequest) error {
	switch req.PaymentMethod {
	case MethodBankTransfer:
		if req.BankDetails == nil || req.BankDetails.AccountNumber == "" || req.BankDetails.IFSC == "" {
			return ErrInvalidPayoutDetails
		}
	case MethodUPI:
		if req.UPIDetails == nil || req.UPIDetails.VPA == "" {
			return ErrInvalidPayoutDetails
		}
	default:
		return ErrInvalidPayoutDetails
	}
	return nil
}

// NewReference builds a human-readable withdrawal reference from the
// request time plus random hex to avoid collisions within a second.
func NewReference(at time.Time) string {
	return "WD-" + at.UTC().Format("20060102-150405") + "-" + idgen.Hex(4)
}
