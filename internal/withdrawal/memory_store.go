package withdrawal

import (
	"context"
	"math/big"
	"sync"

	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/wallet"
)

// MemoryStore is an in-memory withdrawal store for demo/development mode.
// It composes the wallet memory store so a request and its debit (or a
// rejection and its refund) happen under one lock.
type MemoryStore struct {
	wallets *wallet.MemoryStore
	mu      sync.RWMutex
	items   map[string]*Withdrawal
	order   []string // insertion order, oldest first
}

// NewMemoryStore creates a new in-memory withdrawal store backed by the
// given wallet store.
func NewMemoryStore(wallets *wallet.MemoryStore) *MemoryStore {
	return &MemoryStore{
		wallets: wallets,
		items:   make(map[string]*Withdrawal),
	}
}

func (m *MemoryStore) CreateWithDebit(ctx context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Debit under the wallet lock; the insert below cannot fail, so the
	// pair is atomic.
	err := m.wallets.WithLock(func(tx *wallet.MemoryTx) error {
		return tx.Debit(w.PartnerID, w.Amount, w.Reference, "withdrawal request")
	})
	if err != nil {
		return err
	}

	cp := *w
	m.items[w.ID] = &cp
	m.order = append(m.order, w.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.items[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[w.ID]; !ok {
		return ErrWithdrawalNotFound
	}
	cp := *w
	m.items[w.ID] = &cp
	return nil
}

func (m *MemoryStore) RejectWithRefund(ctx context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[w.ID]; !ok {
		return ErrWithdrawalNotFound
	}

	// Refund first; the wallet store's refund idempotency (keyed by the
	// withdrawal reference) guarantees it can only land once.
	err := m.wallets.WithLock(func(tx *wallet.MemoryTx) error {
		return tx.Refund(w.PartnerID, w.Amount, w.Reference, "withdrawal rejected")
	})
	if err != nil {
		return err
	}

	cp := *w
	m.items[w.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByPartner(ctx context.Context, partnerID string, limit int) ([]*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Withdrawal
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		w := m.items[m.order[i]]
		if w.PartnerID == partnerID {
			cp := *w
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAll(ctx context.Context, status Status, limit int) ([]*Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Withdrawal
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		w := m.items[m.order[i]]
		if status != "" && w.Status != status {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) SumNonRejected(ctx context.Context, partnerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := big.NewInt(0)
	for _, w := range m.items {
		if w.PartnerID != partnerID || w.Status == StatusRejected {
			continue
		}
		amt, _ := money.Parse(w.Amount)
		total = money.Add(total, amt)
	}
	return money.Format(total), nil
}

func (m *MemoryStore) Summarize(ctx context.Context, partnerID string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := big.NewInt(0)
	pending := big.NewInt(0)
	counts := make(map[Status]int)

	for _, w := range m.items {
		if w.PartnerID != partnerID {
			continue
		}
		counts[w.Status]++
		amt, _ := money.Parse(w.Amount)
		if w.Status != StatusRejected {
			total = money.Add(total, amt)
		}
		if w.Status == StatusPending {
			pending = money.Add(pending, amt)
		}
	}

	return &Summary{
		TotalWithdrawn: money.Format(total),
		TotalPending:   money.Format(pending),
		Counts:         counts,
	}, nil
}
