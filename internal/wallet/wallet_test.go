package wallet

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/repository"
)

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, balance int64) (*repository.MemoryStore, *Wallet) {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateUser(context.Background(), &model.User{
		ID:          "u1",
		Email:       "u1@example.com",
		Role:        model.RoleUser,
		Balance:     balance,
		CustomerRef: "cus_1",
	}))
	return store, New(func() time.Time { return fixedNow })
}

func TestDebitForDonation(t *testing.T) {
	store, w := setup(t, 5000)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := w.DebitForDonation(ctx, tx, "u1", "f1", 2000, model.IntervalOneTime)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(3000), u.Balance)
		return nil
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), u.Balance)

	history, err := store.ListHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "f1", history[0].FundID)
	assert.Equal(t, int64(2000), history[0].Amount)
	assert.Equal(t, model.SourceWallet, history[0].Source)
	assert.True(t, history[0].PaidAt.Equal(fixedNow))
}

func TestDebitForDonation_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		amount  int64
		wantErr error
	}{
		{name: "insufficient", userID: "u1", amount: 5001, wantErr: ErrInsufficientBalance},
		{name: "zero", userID: "u1", amount: 0, wantErr: model.ErrInvalidAmount},
		{name: "negative", userID: "u1", amount: -10, wantErr: model.ErrInvalidAmount},
		{name: "unknown user", userID: "nobody", amount: 10, wantErr: repository.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, w := setup(t, 5000)
			ctx := context.Background()

			err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				_, err := w.DebitForDonation(ctx, tx, tt.userID, "f1", tt.amount, "")
				return err
			})
			require.ErrorIs(t, err, tt.wantErr)

			u, err := store.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(5000), u.Balance)

			history, err := store.ListHistory(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestCreditWallet(t *testing.T) {
	store, w := setup(t, 100)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := w.CreditWallet(ctx, tx, "u1", 250)
		return err
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(350), u.Balance)

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := w.CreditWallet(ctx, tx, "u1", -50)
		return err
	})
	require.ErrorIs(t, err, model.ErrInvalidAmount)
}

func TestCreditWallet_OverflowKeepsBalance(t *testing.T) {
	store, w := setup(t, 100)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := w.CreditWallet(ctx, tx, "u1", math.MaxInt64)
		return err
	})
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := w.CreditWallet(ctx, tx, "u1", math.MaxInt64-100)
		return err
	})
	require.NoError(t, err)

	u, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), u.Balance)
}

func TestRecordProviderDonation(t *testing.T) {
	store, w := setup(t, 100)
	ctx := context.Background()
	paidAt := fixedNow.Add(-time.Hour)

	ev := model.PaymentEvent{
		CustomerRef:     "cus_1",
		AmountMinor:     1500,
		InvoiceID:       "in_1",
		SubscriptionRef: "sub_1",
		Interval:        model.IntervalMonth,
		FundID:          "f1",
		OccurredAt:      paidAt,
	}

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserByCustomerRefForUpdate(ctx, "cus_1")
		if err != nil {
			return err
		}
		_, err = w.RecordProviderDonation(ctx, tx, u, ev)
		return err
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance, "provider donations never touch the wallet")
	assert.Equal(t, "sub_1", u.SubscriptionRef)

	history, err := store.ListHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "in_1", history[0].InvoiceID)
	assert.Equal(t, model.SourceSubscription, history[0].Source)
	assert.True(t, history[0].PaidAt.Equal(paidAt))
}

func TestRecordProviderDonation_MissingFund(t *testing.T) {
	store, w := setup(t, 100)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, "u1")
		if err != nil {
			return err
		}
		_, err = w.RecordProviderDonation(ctx, tx, u, model.PaymentEvent{AmountMinor: 100})
		return err
	})
	require.ErrorIs(t, err, ErrMissingFundReference)

	history, err := store.ListHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUpdateBankDetails(t *testing.T) {
	store, w := setup(t, 100)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := w.UpdateBankDetails(ctx, tx, "u1", "IBAN DE00 0000")
		return err
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "IBAN DE00 0000", u.BankDetails)
}
