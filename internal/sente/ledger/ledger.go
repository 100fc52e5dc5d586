// Package ledger records completed and failed transactions. The ledger is
// append-only: rows are inserted after a confirmation verifies and are never
// updated or deleted.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ssekandi/sente/internal/sente/intent"
)

// Status is the terminal state of a recorded transaction.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one ledger row.
type Transaction struct {
	ID        string
	Identity  string
	Command   intent.Command
	Status    Status
	AmountUGX int64
	Metadata  string
	CreatedAt time.Time
}

// Ledger persists transactions.
type Ledger struct {
	db *sql.DB
}

// New returns a Ledger over the given database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends a transaction and returns it with its generated ID.
func (l *Ledger) Record(ctx context.Context, identity string, command intent.Command, status Status, amountUGX int64, metadata string) (*Transaction, error) {
	if metadata == "" {
		metadata = "{}"
	}
	tx := &Transaction{
		ID:        uuid.NewString(),
		Identity:  identity,
		Command:   command,
		Status:    status,
		AmountUGX: amountUGX,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transactions (id, identity, command, status, amount_ugx, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.Identity, string(tx.Command), string(tx.Status), tx.AmountUGX, tx.Metadata, tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return tx, nil
}

// Recent returns up to limit transactions for identity, newest first.
func (l *Ledger) Recent(ctx context.Context, identity string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, identity, command, status, amount_ugx, metadata, created_at
		FROM transactions
		WHERE identity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx := &Transaction{}
		var command, status string
		if err := rows.Scan(&tx.ID, &tx.Identity, &command, &status, &tx.AmountUGX, &tx.Metadata, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Command = intent.Command(command)
		tx.Status = Status(status)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// Count returns the total number of recorded transactions. Used by the health
// endpoint.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
