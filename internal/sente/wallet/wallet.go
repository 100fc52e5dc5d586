// Package wallet tracks per-identity demo balances in Ugandan shillings.
package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedBalanceUGX is the balance granted to an identity on first contact.
const SeedBalanceUGX int64 = 150_000

// Wallet reads and adjusts balances.
type Wallet struct {
	db *sql.DB
}

// New returns a Wallet over the given database.
func New(db *sql.DB) *Wallet {
	return &Wallet{db: db}
}

// Balance returns the identity's balance, seeding a new wallet on first use.
func (w *Wallet) Balance(ctx context.Context, identity string) (int64, error) {
	if err := w.ensure(ctx, identity); err != nil {
		return 0, err
	}
	var balance int64
	err := w.db.QueryRowContext(ctx,
		`SELECT balance_ugx FROM wallets WHERE identity = ?`, identity).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Credit adds amount to the identity's balance.
func (w *Wallet) Credit(ctx context.Context, identity string, amountUGX int64) error {
	if amountUGX <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amountUGX)
	}
	if err := w.ensure(ctx, identity); err != nil {
		return err
	}
	_, err := w.db.ExecContext(ctx, `
		UPDATE wallets SET balance_ugx = balance_ugx + ?, updated_at = ? WHERE identity = ?
	`, amountUGX, time.Now(), identity)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

// ErrInsufficientFunds is returned by Debit when the balance cannot cover the
// amount.
var ErrInsufficientFunds = fmt.Errorf("wallet: insufficient funds")

// Debit subtracts amount from the identity's balance. The guard in the WHERE
// clause keeps the balance from going negative even under concurrent debits.
func (w *Wallet) Debit(ctx context.Context, identity string, amountUGX int64) error {
	if amountUGX <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amountUGX)
	}
	if err := w.ensure(ctx, identity); err != nil {
		return err
	}
	res, err := w.db.ExecContext(ctx, `
		UPDATE wallets SET balance_ugx = balance_ugx - ?, updated_at = ?
		WHERE identity = ? AND balance_ugx >= ?
	`, amountUGX, time.Now(), identity, amountUGX)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (w *Wallet) ensure(ctx context.Context, identity string) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO wallets (identity, balance_ugx, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO NOTHING
	`, identity, SeedBalanceUGX, time.Now())
	if err != nil {
		return fmt.Errorf("failed to seed wallet: %w", err)
	}
	return nil
}
