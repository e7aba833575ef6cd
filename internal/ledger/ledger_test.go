package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/repository"
)

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	return New(func() time.Time { return fixedNow })
}

func seedFund(t *testing.T, store *repository.MemoryStore, f model.Fund) {
	t.Helper()
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateFund(ctx, &f)
	})
	if err != nil {
		t.Fatalf("seed fund: %v", err)
	}
}

func TestCredit(t *testing.T) {
	tests := []struct {
		name       string
		current    int64
		target     int64
		amount     int64
		wantAmount int64
		wantActive bool
	}{
		{name: "below target", current: 0, target: 10000, amount: 2500, wantAmount: 2500, wantActive: true},
		{name: "exactly target", current: 7500, target: 10000, amount: 2500, wantAmount: 10000, wantActive: false},
		{name: "crosses target", current: 9000, target: 10000, amount: 2000, wantAmount: 11000, wantActive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &model.Fund{CurrentAmount: tt.current, TargetAmount: tt.target, IsActive: true}
			if err := Credit(f, tt.amount, fixedNow); err != nil {
				t.Fatalf("Credit error: %v", err)
			}
			if f.CurrentAmount != tt.wantAmount {
				t.Fatalf("CurrentAmount = %d, want %d", f.CurrentAmount, tt.wantAmount)
			}
			if f.IsActive != tt.wantActive {
				t.Fatalf("IsActive = %v, want %v", f.IsActive, tt.wantActive)
			}
			if !f.UpdatedAt.Equal(fixedNow) {
				t.Fatalf("UpdatedAt = %v, want %v", f.UpdatedAt, fixedNow)
			}
		})
	}
}

func TestCreditRejects(t *testing.T) {
	f := &model.Fund{TargetAmount: 100, IsActive: true}
	if err := Credit(f, 0, fixedNow); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := Credit(f, -1, fixedNow); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	closed := &model.Fund{TargetAmount: 100, CurrentAmount: 100}
	if err := Credit(closed, 10, fixedNow); !errors.Is(err, ErrFundClosed) {
		t.Fatalf("expected ErrFundClosed, got %v", err)
	}
	if closed.CurrentAmount != 100 {
		t.Fatalf("closed fund must not change, got %d", closed.CurrentAmount)
	}

	huge := &model.Fund{TargetAmount: math.MaxInt64, CurrentAmount: 500, IsActive: true}
	if err := Credit(huge, math.MaxInt64, fixedNow); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on overflow, got %v", err)
	}
	if huge.CurrentAmount != 500 || !huge.IsActive {
		t.Fatalf("fund must not change on overflow, got %d active=%v", huge.CurrentAmount, huge.IsActive)
	}
}

func TestApplyDonation_ClosesFundAndLogs(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFund(t, store, model.Fund{ID: "f1", TargetAmount: 10000, CurrentAmount: 9000, Plan: model.IntervalMonth, IsActive: true})
	l := newTestLedger()
	ctx := context.Background()

	var got *model.Fund
	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		got, err = l.ApplyDonation(ctx, tx, "f1", "u1", 2000, "")
		return err
	})
	if err != nil {
		t.Fatalf("ApplyDonation error: %v", err)
	}
	if got.CurrentAmount != 11000 || got.IsActive {
		t.Fatalf("unexpected fund state: %+v", got)
	}

	log, _ := store.ListDonations(ctx, "f1", 0)
	if len(log) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(log))
	}
	d := log[0]
	if d.DonorID != "u1" || d.Amount != 2000 || d.Source != model.SourceWallet {
		t.Fatalf("unexpected donation: %+v", d)
	}
	if d.Interval != model.IntervalMonth {
		t.Fatalf("empty interval must fall back to plan, got %q", d.Interval)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.ApplyDonation(ctx, tx, "f1", "u1", 100, model.IntervalOneTime)
		return err
	})
	if !errors.Is(err, ErrFundClosed) {
		t.Fatalf("expected ErrFundClosed after target reached, got %v", err)
	}
}

func TestApplyDonation_Errors(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFund(t, store, model.Fund{ID: "f1", TargetAmount: 10000, IsActive: true})
	l := newTestLedger()
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.ApplyDonation(ctx, tx, "missing", "u1", 100, "")
		return err
	})
	if !errors.Is(err, repository.ErrFundNotFound) {
		t.Fatalf("expected ErrFundNotFound, got %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.ApplyDonation(ctx, tx, "f1", "u1", 0, "")
		return err
	})
	if !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	f, _ := store.GetFund(ctx, "f1")
	if f.CurrentAmount != 0 {
		t.Fatalf("fund must be unchanged, got %d", f.CurrentAmount)
	}
}

func TestApplyProviderDonation(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFund(t, store, model.Fund{ID: "f1", TargetAmount: 5000, CurrentAmount: 4000, Plan: model.IntervalMonth, IsActive: true})
	l := newTestLedger()
	ctx := context.Background()
	paidAt := fixedNow.Add(-time.Hour)

	ev := model.PaymentEvent{FundID: "f1", AmountMinor: 1500, InvoiceID: "in_1", Interval: model.IntervalQuarter, OccurredAt: paidAt}
	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.ApplyProviderDonation(ctx, tx, ev, "u1")
		return err
	})
	if err != nil {
		t.Fatalf("ApplyProviderDonation error: %v", err)
	}

	f, _ := store.GetFund(ctx, "f1")
	if f.CurrentAmount != 5500 {
		t.Fatalf("CurrentAmount = %d, want 5500", f.CurrentAmount)
	}
	if f.IsActive {
		t.Fatalf("provider donation reaching target must close the fund")
	}

	log, _ := store.ListDonations(ctx, "f1", 0)
	if len(log) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(log))
	}
	if log[0].DonorID != "u1" || log[0].Source != model.SourceSubscription || log[0].InvoiceID != "in_1" {
		t.Fatalf("unexpected donation: %+v", log[0])
	}
	if !log[0].CreatedAt.Equal(paidAt) {
		t.Fatalf("CreatedAt = %v, want event time %v", log[0].CreatedAt, paidAt)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.ApplyProviderDonation(ctx, tx, ev, "u1")
		return err
	})
	if !errors.Is(err, ErrFundClosed) {
		t.Fatalf("expected ErrFundClosed, got %v", err)
	}
}

func TestCreateAndDeactivateFund(t *testing.T) {
	store := repository.NewMemoryStore()
	l := newTestLedger()
	ctx := context.Background()

	var created *model.Fund
	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		created, err = l.CreateFund(ctx, tx, FundParams{AdminID: "a1", Name: " Shelter ", TargetAmount: 10000})
		return err
	})
	if err != nil {
		t.Fatalf("CreateFund error: %v", err)
	}
	if created.Name != "Shelter" || created.Plan != model.IntervalMonth || !created.IsActive || created.CurrentAmount != 0 {
		t.Fatalf("unexpected fund: %+v", created)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.DeactivateFund(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		t.Fatalf("DeactivateFund error: %v", err)
	}

	f, err := store.GetFund(ctx, created.ID)
	if err != nil {
		t.Fatalf("fund must be retained after soft delete: %v", err)
	}
	if f.IsActive {
		t.Fatalf("fund must be inactive")
	}
}

func TestCreateFund_Validation(t *testing.T) {
	store := repository.NewMemoryStore()
	l := newTestLedger()

	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := l.CreateFund(ctx, tx, FundParams{Name: "", TargetAmount: 100})
		return err
	})
	if !errors.Is(err, ErrInvalidFund) {
		t.Fatalf("expected ErrInvalidFund, got %v", err)
	}

	err = store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := l.CreateFund(ctx, tx, FundParams{Name: "x", TargetAmount: 0})
		return err
	})
	if !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestConcurrentDonationsKeepLogConsistent(t *testing.T) {
	store := repository.NewMemoryStore()
	seedFund(t, store, model.Fund{ID: "f1", TargetAmount: 1000, IsActive: true})
	l := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				_, err := l.ApplyDonation(ctx, tx, "f1", "u1", 30, model.IntervalOneTime)
				return err
			})
		}()
	}
	wg.Wait()

	f, _ := store.GetFund(ctx, "f1")
	log, _ := store.ListDonations(ctx, "f1", 0)

	var sum int64
	for _, d := range log {
		sum += d.Amount
	}
	if sum != f.CurrentAmount {
		t.Fatalf("log total %d != current amount %d", sum, f.CurrentAmount)
	}
	// Первая сумма не меньше цели: 34 * 30 = 1020.
	if f.CurrentAmount != 1020 || f.IsActive {
		t.Fatalf("unexpected fund state: %+v", f)
	}
}

func TestAnalytics(t *testing.T) {
	f := &model.Fund{ID: "f1", TargetAmount: 1000, CurrentAmount: 250}
	log := []model.Donation{
		{DonorID: "u2", Amount: 100},
		{DonorID: "u1", Amount: 100},
		{DonorID: "u1", Amount: 50},
	}

	a := Analytics(f, log, 2)
	if a.LoggedTotal != 250 || a.DonationCount != 3 || a.DonorCount != 2 {
		t.Fatalf("unexpected analytics: %+v", a)
	}
	if a.Progress != 25 {
		t.Fatalf("Progress = %v, want 25", a.Progress)
	}
	if len(a.Recent) != 2 || a.Recent[0].DonorID != "u2" {
		t.Fatalf("unexpected recent donations: %+v", a.Recent)
	}
}
