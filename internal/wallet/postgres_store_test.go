//go:build integration

package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	_ "github.com/lib/pq"

	"github.com/fleetpay/fleetpay/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_CreditAndGetWallet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	err := store.Credit(ctx, testPartner, "150.50", "del_001", "delivery earnings")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	w, err := store.GetWallet(ctx, testPartner)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if w.Balance != "150.50" {
		t.Errorf("Expected balance 150.50, got %s", w.Balance)
	}
	if w.TotalEarnings != "150.50" {
		t.Errorf("Expected totalEarnings 150.50, got %s", w.TotalEarnings)
	}
}

func TestPostgres_CreditThenDebit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	store.Credit(ctx, testPartner, "100.00", "", "earnings")

	err := store.Debit(ctx, testPartner, "30.00", "wd_001", "withdrawal")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	w, err := store.GetWallet(ctx, testPartner)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if w.Balance != "70.00" {
		t.Errorf("Expected balance 70.00, got %s", w.Balance)
	}
	if w.TotalEarnings != "100.00" {
		t.Errorf("Expected totalEarnings 100.00, got %s", w.TotalEarnings)
	}
}

func TestPostgres_OverdraftPrevention(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	store.Credit(ctx, testPartner, "5.00", "", "earnings")

	// Try to debit more than available: must fail via CHECK constraint
	err := store.Debit(ctx, testPartner, "10.00", "wd_001", "overdraft attempt")
	if err != ErrInsufficientBalance {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// Balance unchanged, no debit entry recorded
	w, _ := store.GetWallet(ctx, testPartner)
	if w.Balance != "5.00" {
		t.Errorf("Expected balance 5.00, got %s", w.Balance)
	}

	entries, _ := store.GetEntries(ctx, testPartner, 10, nil)
	for _, e := range entries {
		if e.Type == EntryDebit {
			t.Error("Overdraft attempt should not record a debit entry")
		}
	}
}

func TestPostgres_RefundIdempotency(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	store.Credit(ctx, testPartner, "100.00", "", "earnings")
	store.Debit(ctx, testPartner, "40.00", "wd_001", "withdrawal")

	if err := store.Refund(ctx, testPartner, "40.00", "wd_001", "rejected"); err != nil {
		t.Fatalf("first Refund failed: %v", err)
	}
	if err := store.Refund(ctx, testPartner, "40.00", "wd_001", "rejected"); err != ErrDuplicateRefund {
		t.Fatalf("second Refund = %v, want ErrDuplicateRefund", err)
	}

	w, _ := store.GetWallet(ctx, testPartner)
	if w.Balance != "100.00" {
		t.Errorf("Expected balance 100.00, got %s", w.Balance)
	}
}

func TestPostgres_ConcurrentDebits(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	store.Credit(ctx, testPartner, "100.00", "", "earnings")

	// 10 concurrent debits of 20.00 against a 100.00 balance. At most 5 can
	// succeed (serialization aborts may reduce the count further); the final
	// balance must always equal 100 minus what actually succeeded.
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Debit(ctx, testPartner, "20.00", "wd_conc", "concurrent")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded > 5 {
		t.Errorf("Expected at most 5 successful debits, got %d", succeeded)
	}

	w, _ := store.GetWallet(ctx, testPartner)
	want := fmt.Sprintf("%d.00", 100-20*succeeded)
	if w.Balance != want {
		t.Errorf("Expected balance %s, got %s", want, w.Balance)
	}
}

func TestPostgres_TransactionScopedDebit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	store.Credit(ctx, testPartner, "100.00", "", "earnings")

	// A rolled-back transaction must leave the balance untouched.
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if err := store.DebitTx(ctx, tx, testPartner, "60.00", "wd_001", "withdrawal"); err != nil {
		t.Fatalf("DebitTx failed: %v", err)
	}
	tx.Rollback()

	w, _ := store.GetWallet(ctx, testPartner)
	if w.Balance != "100.00" {
		t.Errorf("Expected balance 100.00 after rollback, got %s", w.Balance)
	}

	// A committed transaction applies both the debit and the entry.
	tx, _ = store.BeginTx(ctx)
	if err := store.DebitTx(ctx, tx, testPartner, "60.00", "wd_002", "withdrawal"); err != nil {
		t.Fatalf("DebitTx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	w, _ = store.GetWallet(ctx, testPartner)
	if w.Balance != "40.00" {
		t.Errorf("Expected balance 40.00 after commit, got %s", w.Balance)
	}
}
