package withdrawal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fleetpay/fleetpay/internal/wallet"
)

const testPartner = "64b8f0a2c91d4e5f6a7b8c9d"

func newTestService(t *testing.T) (*Service, *wallet.MemoryStore) {
	t.Helper()
	wallets := wallet.NewMemoryStore()
	svc := NewService(NewMemoryStore(wallets), "100.00")
	return svc, wallets
}

func fund(t *testing.T, wallets *wallet.MemoryStore, amount string) {
	t.Helper()
	if err := wallets.Credit(context.Background(), testPartner, amount, "del_001", "earnings"); err != nil {
		t.Fatalf("funding wallet failed: %v", err)
	}
}

func bankRequest(amount string) CreateRequest {
	return CreateRequest{
		PartnerID:     testPartner,
		Amount:        amount,
		PaymentMethod: MethodBankTransfer,
		BankDetails: &BankDetails{
			AccountHolder: "Asha Kumar",
			AccountNumber: "001234567890",
			IFSC:          "HDFC0001234",
		},
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusRejected, false},
		{StatusCompleted, StatusRejected, false},
		{StatusRejected, StatusPending, false},
		{StatusRejected, StatusProcessing, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending/processing must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusRejected.IsTerminal() {
		t.Error("completed/rejected must be terminal")
	}
}

func TestRequest(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, err := svc.Request(ctx, bankRequest("150.00"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if w.Status != StatusPending {
		t.Errorf("Status = %s, want pending", w.Status)
	}
	if !strings.HasPrefix(w.Reference, "WD-") {
		t.Errorf("Reference = %s, want WD- prefix", w.Reference)
	}

	// Wallet debited immediately
	wal, _ := wallets.GetWallet(ctx, testPartner)
	if wal.Balance != "350.00" {
		t.Errorf("Balance = %s, want 350.00", wal.Balance)
	}
}

func TestRequest_BelowMinimum(t *testing.T) {
	svc, wallets := newTestService(t)
	fund(t, wallets, "500.00")

	if _, err := svc.Request(context.Background(), bankRequest("99.99")); err != ErrBelowMinimum {
		t.Errorf("Request = %v, want ErrBelowMinimum", err)
	}
}

func TestRequest_AboveMaximum(t *testing.T) {
	wallets := wallet.NewMemoryStore()
	svc := NewService(NewMemoryStore(wallets), "100.00").WithMaxAmount("1000.00")
	fund(t, wallets, "5000.00")

	if _, err := svc.Request(context.Background(), bankRequest("1000.01")); err != ErrAboveMaximum {
		t.Errorf("Request = %v, want ErrAboveMaximum", err)
	}
	if _, err := svc.Request(context.Background(), bankRequest("1000.00")); err != nil {
		t.Errorf("Request at cap failed: %v", err)
	}
}

func TestRequest_InvalidAmount(t *testing.T) {
	svc, wallets := newTestService(t)
	fund(t, wallets, "500.00")

	for _, amount := range []string{"", "abc", "-100.00", "0.00"} {
		if _, err := svc.Request(context.Background(), bankRequest(amount)); err != ErrInvalidAmount {
			t.Errorf("Request(%q) = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestRequest_InsufficientBalance(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "120.00")

	if _, err := svc.Request(ctx, bankRequest("150.00")); err != wallet.ErrInsufficientBalance {
		t.Fatalf("Request = %v, want ErrInsufficientBalance", err)
	}

	// Balance untouched, nothing persisted
	wal, _ := wallets.GetWallet(ctx, testPartner)
	if wal.Balance != "120.00" {
		t.Errorf("Balance = %s, want 120.00", wal.Balance)
	}
	items, _ := svc.ListByPartner(ctx, testPartner, 10)
	if len(items) != 0 {
		t.Errorf("expected no withdrawals, got %d", len(items))
	}
}

func TestRequest_PayoutDetails(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "1000.00")

	cases := []CreateRequest{
		{PartnerID: testPartner, Amount: "150.00", PaymentMethod: MethodBankTransfer},
		{PartnerID: testPartner, Amount: "150.00", PaymentMethod: MethodBankTransfer,
			BankDetails: &BankDetails{AccountNumber: "123"}},
		{PartnerID: testPartner, Amount: "150.00", PaymentMethod: MethodUPI},
		{PartnerID: testPartner, Amount: "150.00", PaymentMethod: "cheque"},
	}
	for i, req := range cases {
		if _, err := svc.Request(ctx, req); err != ErrInvalidPayoutDetails {
			t.Errorf("case %d: Request = %v, want ErrInvalidPayoutDetails", i, err)
		}
	}

	upi := CreateRequest{
		PartnerID:     testPartner,
		Amount:        "150.00",
		PaymentMethod: MethodUPI,
		UPIDetails:    &UPIDetails{VPA: "asha@upi"},
	}
	if _, err := svc.Request(ctx, upi); err != nil {
		t.Errorf("valid UPI request failed: %v", err)
	}
}

func TestTransition_Lifecycle(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))

	w, err := svc.Transition(ctx, w.ID, StatusProcessing, AdminInput{ActorID: "ops1"})
	if err != nil {
		t.Fatalf("pending -> processing failed: %v", err)
	}
	if w.Status != StatusProcessing || w.ProcessedAt == nil {
		t.Errorf("got status=%s processedAt=%v", w.Status, w.ProcessedAt)
	}

	w, err = svc.Transition(ctx, w.ID, StatusCompleted, AdminInput{TransactionID: "utr_9981"})
	if err != nil {
		t.Fatalf("processing -> completed failed: %v", err)
	}
	if w.Status != StatusCompleted || w.CompletedAt == nil || w.TransactionID != "utr_9981" {
		t.Errorf("got status=%s completedAt=%v txID=%s", w.Status, w.CompletedAt, w.TransactionID)
	}

	// Terminal state is frozen
	if _, err := svc.Transition(ctx, w.ID, StatusRejected, AdminInput{}); err != ErrInvalidTransition {
		t.Errorf("transition on completed = %v, want ErrInvalidTransition", err)
	}
}

func TestTransition_CompleteRequiresTransactionID(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))
	svc.Transition(ctx, w.ID, StatusProcessing, AdminInput{})

	if _, err := svc.Transition(ctx, w.ID, StatusCompleted, AdminInput{}); err != ErrMissingTransactionID {
		t.Errorf("Transition = %v, want ErrMissingTransactionID", err)
	}
}

func TestTransition_RejectRefundsWallet(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))

	w, err := svc.Transition(ctx, w.ID, StatusRejected, AdminInput{
		ActorID:        "ops1",
		RejectedReason: "bank account mismatch",
	})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if w.Status != StatusRejected || w.RejectedAt == nil {
		t.Errorf("got status=%s rejectedAt=%v", w.Status, w.RejectedAt)
	}
	if w.RejectedReason != "bank account mismatch" {
		t.Errorf("RejectedReason = %q", w.RejectedReason)
	}

	wal, _ := wallets.GetWallet(ctx, testPartner)
	if wal.Balance != "500.00" {
		t.Errorf("Balance = %s, want 500.00 after refund", wal.Balance)
	}
}

func TestTransition_RejectOnlyFromPending(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))
	svc.Transition(ctx, w.ID, StatusProcessing, AdminInput{})

	if _, err := svc.Transition(ctx, w.ID, StatusRejected, AdminInput{}); err != ErrInvalidTransition {
		t.Errorf("reject on processing = %v, want ErrInvalidTransition", err)
	}

	// No spurious refund
	wal, _ := wallets.GetWallet(ctx, testPartner)
	if wal.Balance != "300.00" {
		t.Errorf("Balance = %s, want 300.00", wal.Balance)
	}
}

func TestTransition_TargetValidation(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))

	for _, target := range []Status{StatusPending, Status("limbo"), Status("")} {
		if _, err := svc.Transition(ctx, w.ID, target, AdminInput{}); err != ErrInvalidTransition {
			t.Errorf("Transition(%q) = %v, want ErrInvalidTransition", target, err)
		}
	}
}

func TestTransition_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Transition(context.Background(), "wd_missing", StatusProcessing, AdminInput{}); err != ErrWithdrawalNotFound {
		t.Errorf("Transition = %v, want ErrWithdrawalNotFound", err)
	}
}

type stubExecutor struct {
	txID  string
	err   error
	calls int
}

func (e *stubExecutor) Execute(ctx context.Context, w *Withdrawal) (string, error) {
	e.calls++
	return e.txID, e.err
}

func TestTransition_CompleteViaExecutor(t *testing.T) {
	wallets := wallet.NewMemoryStore()
	exec := &stubExecutor{txID: "po_stripe_123"}
	svc := NewService(NewMemoryStore(wallets), "100.00").WithExecutor(exec)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))
	svc.Transition(ctx, w.ID, StatusProcessing, AdminInput{})

	w, err := svc.Transition(ctx, w.ID, StatusCompleted, AdminInput{})
	if err != nil {
		t.Fatalf("executor completion failed: %v", err)
	}
	if w.TransactionID != "po_stripe_123" {
		t.Errorf("TransactionID = %s, want po_stripe_123", w.TransactionID)
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want 1", exec.calls)
	}
}

func TestTransition_ExecutorFailureKeepsProcessing(t *testing.T) {
	wallets := wallet.NewMemoryStore()
	exec := &stubExecutor{err: errors.New("provider unavailable")}
	svc := NewService(NewMemoryStore(wallets), "100.00").WithExecutor(exec)
	ctx := context.Background()
	fund(t, wallets, "500.00")

	w, _ := svc.Request(ctx, bankRequest("200.00"))
	svc.Transition(ctx, w.ID, StatusProcessing, AdminInput{})

	if _, err := svc.Transition(ctx, w.ID, StatusCompleted, AdminInput{}); err == nil {
		t.Fatal("expected executor failure to surface")
	}

	got, _ := svc.Get(ctx, w.ID)
	if got.Status != StatusProcessing {
		t.Errorf("Status = %s, want processing after failed payout", got.Status)
	}

	// Manual settlement still works afterwards
	if _, err := svc.Transition(ctx, w.ID, StatusCompleted, AdminInput{TransactionID: "utr_manual"}); err != nil {
		t.Errorf("manual completion after failure = %v", err)
	}
}

func TestListByPartner(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "1000.00")

	first, _ := svc.Request(ctx, bankRequest("100.00"))
	second, _ := svc.Request(ctx, bankRequest("200.00"))

	items, err := svc.ListByPartner(ctx, testPartner, 10)
	if err != nil {
		t.Fatalf("ListByPartner failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	// Newest first
	if items[0].ID != second.ID || items[1].ID != first.ID {
		t.Errorf("unexpected order: %s, %s", items[0].ID, items[1].ID)
	}
}

func TestListAll_StatusFilter(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "1000.00")

	w1, _ := svc.Request(ctx, bankRequest("100.00"))
	svc.Request(ctx, bankRequest("200.00"))
	svc.Transition(ctx, w1.ID, StatusRejected, AdminInput{RejectedReason: "test"})

	pending, err := svc.ListAll(ctx, StatusPending, 10)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	all, _ := svc.ListAll(ctx, "", 10)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}

	if _, err := svc.ListAll(ctx, Status("limbo"), 10); err != ErrInvalidStatusFilter {
		t.Errorf("ListAll(limbo) = %v, want ErrInvalidStatusFilter", err)
	}
}

func TestSummary(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "1000.00")

	w1, _ := svc.Request(ctx, bankRequest("100.00"))
	w2, _ := svc.Request(ctx, bankRequest("200.00"))
	svc.Request(ctx, bankRequest("300.00"))

	svc.Transition(ctx, w1.ID, StatusProcessing, AdminInput{})
	svc.Transition(ctx, w1.ID, StatusCompleted, AdminInput{TransactionID: "utr_1"})
	svc.Transition(ctx, w2.ID, StatusRejected, AdminInput{RejectedReason: "test"})

	s, err := svc.Summary(ctx, testPartner)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	// Rejected 200.00 excluded from the withdrawn total
	if s.TotalWithdrawn != "400.00" {
		t.Errorf("TotalWithdrawn = %s, want 400.00", s.TotalWithdrawn)
	}
	if s.TotalPending != "300.00" {
		t.Errorf("TotalPending = %s, want 300.00", s.TotalPending)
	}
	if s.Counts[StatusCompleted] != 1 || s.Counts[StatusRejected] != 1 || s.Counts[StatusPending] != 1 {
		t.Errorf("Counts = %v", s.Counts)
	}
}

func TestSumNonRejected(t *testing.T) {
	wallets := wallet.NewMemoryStore()
	store := NewMemoryStore(wallets)
	svc := NewService(store, "100.00")
	ctx := context.Background()
	fund(t, wallets, "1000.00")

	w1, _ := svc.Request(ctx, bankRequest("150.00"))
	svc.Request(ctx, bankRequest("250.00"))
	svc.Transition(ctx, w1.ID, StatusRejected, AdminInput{})

	sum, err := store.SumNonRejected(ctx, testPartner)
	if err != nil {
		t.Fatalf("SumNonRejected failed: %v", err)
	}
	if sum != "250.00" {
		t.Errorf("SumNonRejected = %s, want 250.00", sum)
	}
}

func TestNewReference(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	ref := NewReference(at)
	if !strings.HasPrefix(ref, "WD-20250314-092653-") {
		t.Errorf("Reference = %s", ref)
	}
	if ref == NewReference(at) {
		t.Error("references within the same second must differ")
	}
}
