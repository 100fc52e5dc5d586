package confirm

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ssekandi/sente/internal/sente/intent"
)

// Store persists pending confirmations and OTP records and owns their
// lifecycles. All mutating operations for one identity are serialized by a
// per-identity mutex so a Begin racing a Verify (or two Verifies racing each
// other) cannot break the "one pending confirmation, one successful verify"
// invariant. Operations for different identities do not contend.
type Store struct {
	db     *sql.DB
	expiry time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a confirmation Store backed by the given database.
// expiry controls how long codes stay verifiable; pass 0 to use DefaultExpiry.
func NewStore(db *sql.DB, expiry time.Duration) *Store {
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		db:     db,
		expiry: expiry,
		locks:  make(map[string]*sync.Mutex),
	}
}

// identityLock returns the mutex guarding the given identity, creating it on
// first use. Locks are never removed; the map grows with the number of
// distinct users, each entry a few dozen bytes.
func (s *Store) identityLock(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	return l
}

// generateCode returns a uniformly random 6-digit numeric code with leading
// zeros preserved.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Begin starts (or restarts) a confirmation round for identity. Any existing
// pending confirmation is overwritten and every previously issued unverified
// code is invalidated, so a code from an earlier round can never verify after
// a new round begins. Returns the freshly issued OtpRecord for delivery.
func (s *Store) Begin(ctx context.Context, identity string, command intent.Command, payloadJSON string) (*OtpRecord, error) {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin confirmation: %w", err)
	}
	defer tx.Rollback()

	// Last writer wins: replace any prior pending command and reset the
	// attempt counter for the new round.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_confirmations (identity, command, payload_json, attempts, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(identity) DO UPDATE SET
			command = excluded.command,
			payload_json = excluded.payload_json,
			attempts = 0,
			created_at = excluded.created_at
	`, identity, string(command), payloadJSON, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store pending confirmation: %w", err)
	}

	// Codes from earlier rounds must never verify once a new round begins.
	_, err = tx.ExecContext(ctx, `
		UPDATE otp_records SET invalidated = 1
		WHERE identity = ? AND verified = 0 AND invalidated = 0
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate prior codes: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO otp_records (identity, code, verified, invalidated, created_at)
		VALUES (?, ?, 0, 0, ?)
	`, identity, code, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store otp record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read otp record id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation round: %w", err)
	}

	return &OtpRecord{
		ID:        id,
		Identity:  identity,
		Code:      code,
		CreatedAt: now,
	}, nil
}

// Verify checks code against the most recent eligible record for identity.
// Returns true exactly once per Begin round: the matched record is marked
// verified and can never match again. A wrong, expired, or replayed code
// returns false; after MaxVerifyAttempts failures the pending confirmation
// and its codes are cleared and the user must issue the command again.
//
// A non-nil error means the store itself failed; callers must treat that as
// "not verified" and must not commit anything.
func (s *Store) Verify(ctx context.Context, identity, code string) (bool, error) {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, created_at
		FROM otp_records
		WHERE identity = ? AND verified = 0 AND invalidated = 0
		ORDER BY id DESC
		LIMIT 1
	`, identity)

	var id int64
	var storedCode string
	var createdAt time.Time
	err := row.Scan(&id, &storedCode, &createdAt)
	if err == sql.ErrNoRows {
		// Nothing to confirm: an OTP-shaped message with no outstanding
		// round is indistinguishable from a wrong code to the user.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load otp record: %w", err)
	}

	expired := time.Since(createdAt) > s.expiry
	if storedCode != code || expired {
		if err := s.recordFailedAttempt(ctx, identity); err != nil {
			return false, err
		}
		return false, nil
	}

	// The verified=0 guard makes the update idempotent against a replay
	// that slips past the row query.
	res, err := s.db.ExecContext(ctx, `
		UPDATE otp_records SET verified = 1 WHERE id = ? AND verified = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark otp verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// recordFailedAttempt bumps the attempt counter and clears the round once
// MaxVerifyAttempts is reached.
func (s *Store) recordFailedAttempt(ctx context.Context, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations SET attempts = attempts + 1 WHERE identity = ?
	`, identity)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx, `
		SELECT attempts FROM pending_confirmations WHERE identity = ?
	`, identity).Scan(&attempts)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read attempts: %w", err)
	}

	if attempts >= MaxVerifyAttempts {
		return s.clear(ctx, identity)
	}
	return nil
}

// ConsumePending atomically retrieves and clears the pending confirmation for
// identity. Called exactly once, immediately after a successful Verify.
// Returns ErrNoPending when nothing is outstanding.
func (s *Store) ConsumePending(ctx context.Context, identity string) (*PendingConfirmation, error) {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending confirmation: %w", err)
	}
	defer tx.Rollback()

	p := &PendingConfirmation{Identity: identity}
	var command string
	err = tx.QueryRowContext(ctx, `
		SELECT command, payload_json, attempts, created_at
		FROM pending_confirmations
		WHERE identity = ?
	`, identity).Scan(&command, &p.PayloadJSON, &p.Attempts, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending confirmation: %w", err)
	}
	p.Command = intent.Command(command)

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE identity = ?`, identity); err != nil {
		return nil, fmt.Errorf("failed to clear pending confirmation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}
	return p, nil
}

// Pending returns the outstanding confirmation for identity without clearing
// it, or ErrNoPending.
func (s *Store) Pending(ctx context.Context, identity string) (*PendingConfirmation, error) {
	p := &PendingConfirmation{Identity: identity}
	var command string
	err := s.db.QueryRowContext(ctx, `
		SELECT command, payload_json, attempts, created_at
		FROM pending_confirmations
		WHERE identity = ?
	`, identity).Scan(&command, &p.PayloadJSON, &p.Attempts, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending confirmation: %w", err)
	}
	p.Command = intent.Command(command)
	return p, nil
}

// Cancel clears the pending confirmation and invalidates any outstanding
// codes without completing a transaction. Returns true when something was
// actually cancelled.
func (s *Store) Cancel(ctx context.Context, identity string) (bool, error) {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE identity = ?`, identity)
	if err != nil {
		return false, fmt.Errorf("failed to cancel confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE otp_records SET invalidated = 1
		WHERE identity = ? AND verified = 0 AND invalidated = 0
	`, identity); err != nil {
		return false, fmt.Errorf("failed to invalidate codes: %w", err)
	}

	return n > 0, nil
}

// clear removes the pending confirmation and invalidates outstanding codes.
// Callers hold the identity lock.
func (s *Store) clear(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to clear pending confirmation: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE otp_records SET invalidated = 1
		WHERE identity = ? AND verified = 0 AND invalidated = 0
	`, identity); err != nil {
		return fmt.Errorf("failed to invalidate codes: %w", err)
	}
	return nil
}
