package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fleetpay/fleetpay/internal/idgen"
	"github.com/fleetpay/fleetpay/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet tables with NUMERIC columns
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			partner_id      VARCHAR(64) PRIMARY KEY,
			balance         NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_earnings  NUMERIC(20,2) NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg  CHECK (balance >= 0),
			CONSTRAINT chk_earnings_nonneg CHECK (total_earnings >= 0)
		);

		CREATE TABLE IF NOT EXISTS wallet_entries (
			id              VARCHAR(36) PRIMARY KEY,
			partner_id      VARCHAR(64) NOT NULL,
			type            VARCHAR(20) NOT NULL,
			amount          NUMERIC(20,2) NOT NULL,
			reference       VARCHAR(255),
			description     TEXT,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_entries_partner ON wallet_entries(partner_id);
		CREATE INDEX IF NOT EXISTS idx_entries_created ON wallet_entries(created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_refund_ref
			ON wallet_entries(partner_id, reference) WHERE type = 'refund';
	`)
	return err
}

// GetWallet retrieves a partner's wallet
func (p *PostgresStore) GetWallet(ctx context.Context, partnerID string) (*Wallet, error) {
	w := &Wallet{PartnerID: partnerID}

	err := p.db.QueryRowContext(ctx, `
		SELECT balance, total_earnings, updated_at
		FROM wallets WHERE partner_id = $1
	`, partnerID).Scan(&w.Balance, &w.TotalEarnings, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Wallet{
			PartnerID:     partnerID,
			Balance:       "0.00",
			TotalEarnings: "0.00",
			UpdatedAt:     time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Credit adds earnings to a partner's wallet
func (p *PostgresStore) Credit(ctx context.Context, partnerID, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.CreditTx(ctx, tx, partnerID, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

// CreditTx performs a credit within an existing transaction.
func (p *PostgresStore) CreditTx(ctx context.Context, tx *sql.Tx, partnerID, amount, reference, description string) error {
	// Upsert wallet using native NUMERIC arithmetic
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (partner_id, balance, total_earnings, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), $2::NUMERIC(20,2), NOW())
		ON CONFLICT (partner_id) DO UPDATE SET
			balance        = wallets.balance        + $2::NUMERIC(20,2),
			total_earnings = wallets.total_earnings + $2::NUMERIC(20,2),
			updated_at     = NOW()
	`, partnerID, amount)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, partner_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'credit', $3::NUMERIC(20,2), $4, $5, NOW())
	`, idgen.WithPrefix("ent_"), partnerID, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return nil
}

// Debit removes funds from a partner's wallet.
// The CHECK constraint on balance >= 0 prevents overdraft at the DB level.
func (p *PostgresStore) Debit(ctx context.Context, partnerID, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.DebitTx(ctx, tx, partnerID, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

// DebitTx performs a debit within an existing transaction.
// A CHECK constraint violation surfaces as ErrInsufficientBalance.
func (p *PostgresStore) DebitTx(ctx context.Context, tx *sql.Tx, partnerID, amount, reference, description string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE partner_id = $1
	`, partnerID, amount)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrWalletNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, partner_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'debit', $3::NUMERIC(20,2), $4, $5, NOW())
	`, idgen.WithPrefix("ent_"), partnerID, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return nil
}

// Refund credits back funds to a partner's wallet (reverses a rejected withdrawal)
func (p *PostgresStore) Refund(ctx context.Context, partnerID, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := p.RefundTx(ctx, tx, partnerID, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

// RefundTx performs a refund within an existing transaction. The partial
// unique index on refund entries makes a second refund for the same
// reference fail with ErrDuplicateRefund.
func (p *PostgresStore) RefundTx(ctx context.Context, tx *sql.Tx, partnerID, amount, reference, description string) error {
	// Record the entry first so the unique index rejects duplicates before
	// the balance is touched.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, partner_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'refund', $3::NUMERIC(20,2), $4, $5, NOW())
	`, idgen.WithPrefix("ent_"), partnerID, amount, reference, description)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRefund
		}
		return fmt.Errorf("failed to record entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE partner_id = $1
	`, partnerID, amount)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrWalletNotFound
	}

	return nil
}

// GetEntries retrieves ledger entries for a partner, newest first.
// A non-nil cursor resumes after the given (created_at, id) position.
func (p *PostgresStore) GetEntries(ctx context.Context, partnerID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	query := `
		SELECT id, partner_id, type, amount, reference, description, created_at
		FROM wallet_entries
		WHERE partner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	args := []interface{}{partnerID, limit}
	if cursor != nil {
		query = `
			SELECT id, partner_id, type, amount, reference, description, created_at
			FROM wallet_entries
			WHERE partner_id = $1 AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference, description sql.NullString
		if err := rows.Scan(&e.ID, &e.PartnerID, &e.Type, &e.Amount, &reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListWallets returns every wallet row.
func (p *PostgresStore) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT partner_id, balance, total_earnings, updated_at
		FROM wallets
		ORDER BY partner_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w := &Wallet{}
		if err := rows.Scan(&w.PartnerID, &w.Balance, &w.TotalEarnings, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// BeginTx starts a serializable transaction for callers that compose
// wallet mutations with their own writes.
func (p *PostgresStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func isCheckViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23514"
	}
	return false
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
