package wallet_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ssekandi/sente/internal/sente/store"
	"github.com/ssekandi/sente/internal/sente/wallet"
)

func newTestWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return wallet.New(st.DB())
}

func TestBalanceSeedsOnFirstContact(t *testing.T) {
	w := newTestWallet(t)

	got, err := w.Balance(context.Background(), "256700000001")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got != wallet.SeedBalanceUGX {
		t.Errorf("balance = %d, want seed %d", got, wallet.SeedBalanceUGX)
	}
}

func TestCreditAndDebit(t *testing.T) {
	w := newTestWallet(t)
	ctx := context.Background()

	if err := w.Credit(ctx, "user", 50_000); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := w.Debit(ctx, "user", 30_000); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	got, err := w.Balance(ctx, "user")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want := wallet.SeedBalanceUGX + 50_000 - 30_000
	if got != want {
		t.Errorf("balance = %d, want %d", got, want)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	w := newTestWallet(t)
	ctx := context.Background()

	err := w.Debit(ctx, "user", wallet.SeedBalanceUGX+1)
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	got, err := w.Balance(ctx, "user")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got != wallet.SeedBalanceUGX {
		t.Errorf("failed debit changed balance to %d", got)
	}
}

func TestNonPositiveAmountsRejected(t *testing.T) {
	w := newTestWallet(t)
	ctx := context.Background()

	if err := w.Credit(ctx, "user", 0); err == nil {
		t.Error("zero credit accepted")
	}
	if err := w.Debit(ctx, "user", -5); err == nil {
		t.Error("negative debit accepted")
	}
}
