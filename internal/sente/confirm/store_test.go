package confirm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssekandi/sente/internal/sente/confirm"
	"github.com/ssekandi/sente/internal/sente/intent"
	"github.com/ssekandi/sente/internal/sente/store"
)

func newTestStore(t *testing.T) (*confirm.Store, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return confirm.NewStore(st.DB(), 0), st
}

func TestBeginIssuesSixDigitCode(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "256700000001", intent.CommandAirtime, `{"amount_ugx":5000}`)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(rec.Code) != confirm.OtpLength {
		t.Errorf("code %q, want %d digits", rec.Code, confirm.OtpLength)
	}
	for _, r := range rec.Code {
		if r < '0' || r > '9' {
			t.Errorf("code %q contains non-digit", rec.Code)
		}
	}

	p, err := cs.Pending(ctx, "256700000001")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p.Command != intent.CommandAirtime {
		t.Errorf("pending command = %v, want airtime", p.Command)
	}
	if p.PayloadJSON != `{"amount_ugx":5000}` {
		t.Errorf("payload = %q", p.PayloadJSON)
	}
}

func TestVerifyCorrectCode(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "user", intent.CommandTransfer, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ok, err := cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("correct code did not verify")
	}

	// Replay of the same code must fail.
	ok, err = cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify replay: %v", err)
	}
	if ok {
		t.Error("replayed code verified a second time")
	}
}

func TestVerifyWrongCodeKeepsPending(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "user", intent.CommandPayWater, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	wrong := "000000"
	if wrong == rec.Code {
		wrong = "000001"
	}
	ok, err := cs.Verify(ctx, "user", wrong)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("wrong code verified")
	}

	p, err := cs.Pending(ctx, "user")
	if err != nil {
		t.Fatalf("Pending after wrong code: %v", err)
	}
	if p.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", p.Attempts)
	}

	// The real code still works after a failed attempt.
	ok, err = cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("correct code rejected after one wrong attempt")
	}
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "user", intent.CommandTopUp, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	wrong := "000000"
	if wrong == rec.Code {
		wrong = "000001"
	}
	for i := 0; i < confirm.MaxVerifyAttempts; i++ {
		ok, err := cs.Verify(ctx, "user", wrong)
		if err != nil {
			t.Fatalf("Verify attempt %d: %v", i+1, err)
		}
		if ok {
			t.Fatalf("wrong code verified on attempt %d", i+1)
		}
	}

	if _, err := cs.Pending(ctx, "user"); !errors.Is(err, confirm.ErrNoPending) {
		t.Errorf("pending survives exhausted attempts: %v", err)
	}

	// Even the real code is dead after exhaustion.
	ok, err := cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("code verified after attempts exhausted")
	}
}

func TestBeginInvalidatesPriorRound(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	first, err := cs.Begin(ctx, "user", intent.CommandPayTV, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	second, err := cs.Begin(ctx, "user", intent.CommandTransfer, `{"amount_ugx":20000}`)
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}

	// Last writer wins.
	p, err := cs.Pending(ctx, "user")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p.Command != intent.CommandTransfer {
		t.Errorf("pending command = %v, want transfer", p.Command)
	}

	// The first round's code is dead unless the rounds happened to collide.
	if first.Code != second.Code {
		ok, err := cs.Verify(ctx, "user", first.Code)
		if err != nil {
			t.Fatalf("Verify old code: %v", err)
		}
		if ok {
			t.Error("code from a replaced round verified")
		}
	}

	ok, err := cs.Verify(ctx, "user", second.Code)
	if err != nil {
		t.Fatalf("Verify new code: %v", err)
	}
	if !ok {
		t.Error("current round code rejected")
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	cs, st := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "user", intent.CommandAirtime, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Backdate the record past the expiry window.
	_, err = st.DB().ExecContext(ctx,
		`UPDATE otp_records SET created_at = ? WHERE id = ?`,
		time.Now().Add(-confirm.DefaultExpiry-time.Minute), rec.ID)
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}

	ok, err := cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expired code verified")
	}
}

func TestVerifyWithNoPending(t *testing.T) {
	cs, _ := newTestStore(t)

	ok, err := cs.Verify(context.Background(), "stranger", "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("verified with no outstanding round")
	}
}

func TestConsumePending(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := cs.Begin(ctx, "user", intent.CommandPayElectricity, `{"meter":"yaka-1"}`); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	p, err := cs.ConsumePending(ctx, "user")
	if err != nil {
		t.Fatalf("ConsumePending: %v", err)
	}
	if p.Command != intent.CommandPayElectricity {
		t.Errorf("command = %v, want pay_electricity", p.Command)
	}
	if p.PayloadJSON != `{"meter":"yaka-1"}` {
		t.Errorf("payload = %q", p.PayloadJSON)
	}

	// Consuming is one-shot.
	if _, err := cs.ConsumePending(ctx, "user"); !errors.Is(err, confirm.ErrNoPending) {
		t.Errorf("second consume: got %v, want ErrNoPending", err)
	}
}

func TestCancel(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := cs.Begin(ctx, "user", intent.CommandTransfer, "{}")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	cancelled, err := cs.Cancel(ctx, "user")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Error("Cancel reported nothing to cancel")
	}

	if _, err := cs.Pending(ctx, "user"); !errors.Is(err, confirm.ErrNoPending) {
		t.Errorf("pending survives cancel: %v", err)
	}
	ok, err := cs.Verify(ctx, "user", rec.Code)
	if err != nil {
		t.Fatalf("Verify after cancel: %v", err)
	}
	if ok {
		t.Error("code verified after cancel")
	}

	cancelled, err = cs.Cancel(ctx, "user")
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if cancelled {
		t.Error("second cancel reported success")
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	cs, _ := newTestStore(t)
	ctx := context.Background()

	a, err := cs.Begin(ctx, "alice", intent.CommandAirtime, "{}")
	if err != nil {
		t.Fatalf("Begin alice: %v", err)
	}
	if _, err := cs.Begin(ctx, "bob", intent.CommandTransfer, "{}"); err != nil {
		t.Fatalf("Begin bob: %v", err)
	}

	if _, err := cs.Cancel(ctx, "bob"); err != nil {
		t.Fatalf("Cancel bob: %v", err)
	}

	ok, err := cs.Verify(ctx, "alice", a.Code)
	if err != nil {
		t.Fatalf("Verify alice: %v", err)
	}
	if !ok {
		t.Error("alice's round was disturbed by bob's cancel")
	}
}
