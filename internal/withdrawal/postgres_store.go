package withdrawal

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/fleetpay/fleetpay/internal/money"
	"github.com/fleetpay/fleetpay/internal/wallet"
)

// PostgresStore implements Store with PostgreSQL. It composes the wallet
// store so the wallet mutation and the withdrawal row commit in one
// transaction.
type PostgresStore struct {
	db      *sql.DB
	wallets *wallet.PostgresStore
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store.
func NewPostgresStore(db *sql.DB, wallets *wallet.PostgresStore) *PostgresStore {
	return &PostgresStore{db: db, wallets: wallets}
}

// Migrate creates the withdrawals table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS withdrawals (
			id                  VARCHAR(36) PRIMARY KEY,
			partner_id          VARCHAR(64) NOT NULL,
			amount              NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			status              VARCHAR(20) NOT NULL DEFAULT 'pending',
			payment_method      VARCHAR(20) NOT NULL,
			bank_account_holder VARCHAR(255),
			bank_account_number VARCHAR(64),
			bank_ifsc           VARCHAR(20),
			upi_vpa             VARCHAR(255),
			reference           VARCHAR(64) NOT NULL UNIQUE,
			requested_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at        TIMESTAMPTZ,
			completed_at        TIMESTAMPTZ,
			rejected_at         TIMESTAMPTZ,
			rejected_reason     TEXT,
			admin_notes         TEXT,
			transaction_id      VARCHAR(255),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_withdrawals_partner ON withdrawals(partner_id);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_requested ON withdrawals(requested_at DESC);
	`)
	return err
}

// CreateWithDebit debits the partner's wallet and inserts the withdrawal
// in a single transaction. Insufficient balance rolls everything back.
func (p *PostgresStore) CreateWithDebit(ctx context.Context, w *Withdrawal) error {
	tx, err := p.wallets.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.wallets.DebitTx(ctx, tx, w.PartnerID, w.Amount, w.Reference, "withdrawal request"); err != nil {
		return err
	}

	var holder, number, ifsc, vpa sql.NullString
	if w.BankDetails != nil {
		holder = sql.NullString{String: w.BankDetails.AccountHolder, Valid: true}
		number = sql.NullString{String: w.BankDetails.AccountNumber, Valid: true}
		ifsc = sql.NullString{String: w.BankDetails.IFSC, Valid: true}
	}
	if w.UPIDetails != nil {
		vpa = sql.NullString{String: w.UPIDetails.VPA, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO withdrawals (
			id, partner_id, amount, status, payment_method,
			bank_account_holder, bank_account_number, bank_ifsc, upi_vpa,
			reference, requested_at, updated_at
		) VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, w.ID, w.PartnerID, w.Amount, w.Status, w.PaymentMethod,
		holder, number, ifsc, vpa, w.Reference, w.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	return tx.Commit()
}

// Get retrieves a withdrawal by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+` FROM withdrawals WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	return w, err
}

// Update persists mutable withdrawal fields.
func (p *PostgresStore) Update(ctx context.Context, w *Withdrawal) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawals SET
			status          = $2,
			processed_at    = $3,
			completed_at    = $4,
			rejected_at     = $5,
			rejected_reason = NULLIF($6, ''),
			admin_notes     = NULLIF($7, ''),
			transaction_id  = NULLIF($8, ''),
			updated_at      = NOW()
		WHERE id = $1
	`, w.ID, w.Status, w.ProcessedAt, w.CompletedAt, w.RejectedAt,
		w.RejectedReason, w.AdminNotes, w.TransactionID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// RejectWithRefund refunds the partner's wallet and flips the withdrawal
// to rejected in a single transaction. The status guard in the UPDATE
// means a concurrent transition loses cleanly.
func (p *PostgresStore) RejectWithRefund(ctx context.Context, w *Withdrawal) error {
	tx, err := p.wallets.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE withdrawals SET
			status          = 'rejected',
			rejected_at     = $2,
			rejected_reason = NULLIF($3, ''),
			admin_notes     = NULLIF($4, ''),
			updated_at      = NOW()
		WHERE id = $1 AND status = 'pending'
	`, w.ID, w.RejectedAt, w.RejectedReason, w.AdminNotes)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvalidTransition
	}

	if err := p.wallets.RefundTx(ctx, tx, w.PartnerID, w.Amount, w.Reference, "withdrawal rejected"); err != nil {
		return err
	}

	return tx.Commit()
}

// ListByPartner returns a partner's withdrawals, newest first.
func (p *PostgresStore) ListByPartner(ctx context.Context, partnerID string, limit int) ([]*Withdrawal, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		FROM withdrawals
		WHERE partner_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`, partnerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// ListAll returns withdrawals across partners, optionally filtered by status.
func (p *PostgresStore) ListAll(ctx context.Context, status Status, limit int) ([]*Withdrawal, error) {
	query := selectColumns + `
		FROM withdrawals
		ORDER BY requested_at DESC
		LIMIT $1
	`
	args := []interface{}{limit}
	if status != "" {
		query = selectColumns + `
			FROM withdrawals
			WHERE status = $2
			ORDER BY requested_at DESC
			LIMIT $1
		`
		args = append(args, status)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// SumNonRejected sums a partner's non-rejected withdrawal amounts.
func (p *PostgresStore) SumNonRejected(ctx context.Context, partnerID string) (string, error) {
	var sum string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE partner_id = $1 AND status <> 'rejected'
	`, partnerID).Scan(&sum)
	if err != nil {
		return "", err
	}
	// Normalize scale ("0" -> "0.00")
	if v, ok := money.Parse(sum); ok {
		return money.Format(v), nil
	}
	return sum, nil
}

// Summarize aggregates a partner's withdrawal totals by status.
func (p *PostgresStore) Summarize(ctx context.Context, partnerID string) (*Summary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE partner_id = $1
		GROUP BY status
	`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := big.NewInt(0)
	pending := big.NewInt(0)
	counts := make(map[Status]int)

	for rows.Next() {
		var status Status
		var count int
		var sum string
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return nil, err
		}
		counts[status] = count

		amt, _ := money.Parse(sum)
		if status != StatusRejected {
			total = money.Add(total, amt)
		}
		if status == StatusPending {
			pending = money.Add(pending, amt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Summary{
		TotalWithdrawn: money.Format(total),
		TotalPending:   money.Format(pending),
		Counts:         counts,
	}, nil
}

const selectColumns = `
	SELECT id, partner_id, amount, status, payment_method,
	       bank_account_holder, bank_account_number, bank_ifsc, upi_vpa,
	       reference, requested_at, processed_at, completed_at, rejected_at,
	       rejected_reason, admin_notes, transaction_id, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	w := &Withdrawal{}
	var holder, number, ifsc, vpa sql.NullString
	var rejectedReason, adminNotes, txID sql.NullString
	var processedAt, completedAt, rejectedAt sql.NullTime

	err := row.Scan(
		&w.ID, &w.PartnerID, &w.Amount, &w.Status, &w.PaymentMethod,
		&holder, &number, &ifsc, &vpa,
		&w.Reference, &w.RequestedAt, &processedAt, &completedAt, &rejectedAt,
		&rejectedReason, &adminNotes, &txID, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if number.Valid {
		w.BankDetails = &BankDetails{
			AccountHolder: holder.String,
			AccountNumber: number.String,
			IFSC:          ifsc.String,
		}
	}
	if vpa.Valid {
		w.UPIDetails = &UPIDetails{VPA: vpa.String}
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	if rejectedAt.Valid {
		w.RejectedAt = &rejectedAt.Time
	}
	w.RejectedReason = rejectedReason.String
	w.AdminNotes = adminNotes.String
	w.TransactionID = txID.String

	return w, nil
}

func scanWithdrawals(rows *sql.Rows) ([]*Withdrawal, error) {
	var result []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
