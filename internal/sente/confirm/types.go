// Package confirm implements the pending-action / OTP confirmation state
// machine.
//
// When a sensitive command (transfer, bill payment, top-up, airtime) is
// resolved, the request is held as a pending confirmation keyed by the sender
// identity and a one-time passcode is issued. The user then replies with the
// 6-digit code, which either commits the pending command or is rejected.
//
// Per identity the machine is: Idle → AwaitingOtp (on Begin) → Idle (on
// verify-success + consume, on Cancel, or on exhausting verify attempts).
// A wrong code keeps AwaitingOtp alive; a new sensitive command silently
// replaces the old one — last writer wins, no stacking.
package confirm

import (
	"errors"
	"time"

	"github.com/ssekandi/sente/internal/sente/intent"
)

const (
	// OtpLength is the number of digits in a generated passcode.
	OtpLength = 6

	// DefaultExpiry is how long a passcode stays eligible for verification.
	// Expiry is lazy: an old record is simply ineligible at verify time, no
	// timer fires.
	DefaultExpiry = 5 * time.Minute

	// MaxVerifyAttempts is the number of failed verifications allowed before
	// the pending confirmation is cleared and the user must start over.
	MaxVerifyAttempts = 5
)

// ErrNoPending is returned by ConsumePending when the identity has no
// outstanding confirmation.
var ErrNoPending = errors.New("confirm: no pending confirmation")

// PendingConfirmation is the single outstanding sensitive command awaiting
// OTP confirmation for an identity.
type PendingConfirmation struct {
	// Identity is the channel address the confirmation belongs to.
	Identity string

	// Command is the sensitive command that will commit on verification.
	Command intent.Command

	// PayloadJSON carries structured details parsed from the original
	// message (e.g. an airtime request), sufficient to complete the
	// transaction without re-parsing.
	PayloadJSON string

	// Attempts counts failed verifications in the current round.
	Attempts int

	// CreatedAt is when the confirmation round began.
	CreatedAt time.Time
}

// OtpRecord is one issued passcode. Multiple historical records may exist per
// identity; only the most recent unverified, non-invalidated one is eligible
// for matching.
type OtpRecord struct {
	ID          int64
	Identity    string
	Code        string
	Verified    bool
	Invalidated bool
	CreatedAt   time.Time
}

// Expired reports whether the record is past the given window at time now.
func (r *OtpRecord) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(r.CreatedAt) > window
}
