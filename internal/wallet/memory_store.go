package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpay/fleetpay/internal/idgen"
	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/pagination"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	entries []*Entry
	refunds map[string]bool // "partnerID:ref" -> already refunded
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		entries: make([]*Entry, 0),
		refunds: make(map[string]bool),
	}
}

func (m *MemoryStore) GetWallet(ctx context.Context, partnerID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.wallets[partnerID]; ok {
		cp := *w
		return &cp, nil
	}
	return &Wallet{
		PartnerID:     partnerID,
		Balance:       "0.00",
		TotalEarnings: "0.00",
		UpdatedAt:     time.Now(),
	}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, partnerID, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(partnerID, amount, reference, description)
}

// creditLocked assumes m.mu is held.
func (m *MemoryStore) creditLocked(partnerID, amount, reference, description string) error {
	w, ok := m.wallets[partnerID]
	if !ok {
		w = &Wallet{
			PartnerID:     partnerID,
			Balance:       "0.00",
			TotalEarnings: "0.00",
		}
		m.wallets[partnerID] = w
	}

	balance, _ := money.Parse(w.Balance)
	total, _ := money.Parse(w.TotalEarnings)
	add, _ := money.Parse(amount)

	w.Balance = money.Format(money.Add(balance, add))
	w.TotalEarnings = money.Format(money.Add(total, add))
	w.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("ent_"),
		PartnerID:   partnerID,
		Type:        EntryCredit,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, partnerID, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(partnerID, amount, reference, description)
}

// debitLocked assumes m.mu is held.
func (m *MemoryStore) debitLocked(partnerID, amount, reference, description string) error {
	w, ok := m.wallets[partnerID]
	if !ok {
		return ErrWalletNotFound
	}

	balance, _ := money.Parse(w.Balance)
	sub, _ := money.Parse(amount)

	if balance.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	w.Balance = money.Format(money.Sub(balance, sub))
	w.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("ent_"),
		PartnerID:   partnerID,
		Type:        EntryDebit,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) Refund(ctx context.Context, partnerID, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundLocked(partnerID, amount, reference, description)
}

// refundLocked assumes m.mu is held.
func (m *MemoryStore) refundLocked(partnerID, amount, reference, description string) error {
	// Idempotency: prevent duplicate refunds for the same reference
	refundKey := partnerID + ":" + reference
	if m.refunds[refundKey] {
		return ErrDuplicateRefund
	}

	w, ok := m.wallets[partnerID]
	if !ok {
		return ErrWalletNotFound
	}

	balance, _ := money.Parse(w.Balance)
	add, _ := money.Parse(amount)

	w.Balance = money.Format(money.Add(balance, add))
	w.UpdatedAt = time.Now()

	m.refunds[refundKey] = true

	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("ent_"),
		PartnerID:   partnerID,
		Type:        EntryRefund,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) GetEntries(ctx context.Context, partnerID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Entries are appended in order, so iterate backwards for newest first.
	// With a cursor, skip everything up to and including the cursor entry.
	seen := cursor == nil
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.PartnerID != partnerID {
			continue
		}
		if !seen {
			if e.ID == cursor.ID {
				seen = true
			}
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// ListWallets returns every wallet the store knows about.
func (m *MemoryStore) ListWallets(ctx context.Context) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		result = append(result, &cp)
	}
	return result, nil
}

// WithLock runs fn while holding the store's write lock, giving callers a
// way to compose several mutations into one atomic step. fn must only call
// the *Locked variants.
func (m *MemoryStore) WithLock(fn func(tx *MemoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&MemoryTx{store: m})
}

// MemoryTx exposes lock-free mutations for use inside WithLock.
type MemoryTx struct {
	store *MemoryStore
}

func (t *MemoryTx) Credit(partnerID, amount, reference, description string) error {
	return t.store.creditLocked(partnerID, amount, reference, description)
}

func (t *MemoryTx) Debit(partnerID, amount, reference, description string) error {
	return t.store.debitLocked(partnerID, amount, reference, description)
}

func (t *MemoryTx) Refund(partnerID, amount, reference, description string) error {
	return t.store.refundLocked(partnerID, amount, reference, description)
}
