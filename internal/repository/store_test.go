package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/donations-system/internal/model"
)

var errAbort = errors.New("abort")

// runStoreSuite проверяет общий контракт Store на любой реализации.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	admin := &model.User{
		ID:          uuid.NewString(),
		Name:        "Admin",
		Email:       uuid.NewString() + "@example.com",
		Role:        model.RoleAdmin,
		CustomerRef: "cus_" + uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateUser(ctx, admin))

	t.Run("duplicate email", func(t *testing.T) {
		dup := *admin
		dup.ID = uuid.NewString()
		err := s.CreateUser(ctx, &dup)
		require.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("get user", func(t *testing.T) {
		got, err := s.GetUser(ctx, admin.ID)
		require.NoError(t, err)
		assert.Equal(t, admin.Email, got.Email)
		assert.Equal(t, model.RoleAdmin, got.Role)

		byEmail, err := s.GetUserByEmail(ctx, admin.Email)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, byEmail.ID)

		_, err = s.GetUser(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	fund := &model.Fund{
		ID:           uuid.NewString(),
		AdminID:      admin.ID,
		Name:         "Shelter",
		TargetAmount: 10000,
		Plan:         model.IntervalMonth,
		IsActive:     true,
		StartDate:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("create fund and log donations", func(t *testing.T) {
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.CreateFund(ctx, fund); err != nil {
				return err
			}
			u, err := tx.GetUserForUpdate(ctx, admin.ID)
			if err != nil {
				return err
			}
			u.FundIDs = append(u.FundIDs, fund.ID)
			return tx.SaveUser(ctx, u)
		})
		require.NoError(t, err)

		for i, amount := range []int64{500, 700} {
			err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
				f, err := tx.GetFundForUpdate(ctx, fund.ID)
				if err != nil {
					return err
				}
				f.CurrentAmount += amount
				if err := tx.SaveFund(ctx, f); err != nil {
					return err
				}
				return tx.AppendDonation(ctx, &model.Donation{
					ID:        uuid.NewString(),
					FundID:    fund.ID,
					DonorID:   admin.ID,
					Amount:    amount,
					Interval:  model.IntervalOneTime,
					Source:    model.SourceWallet,
					CreatedAt: now.Add(time.Duration(i) * time.Second),
				})
			})
			require.NoError(t, err)
		}

		got, err := s.GetFund(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), got.CurrentAmount)

		all, err := s.ListDonations(ctx, fund.ID, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, int64(700), all[0].Amount)

		recent, err := s.ListDonations(ctx, fund.ID, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, int64(700), recent[0].Amount)

		u, err := s.GetUser(ctx, admin.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{fund.ID}, u.FundIDs)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			f, err := tx.GetFundForUpdate(ctx, fund.ID)
			if err != nil {
				return err
			}
			f.CurrentAmount += 100000
			if err := tx.SaveFund(ctx, f); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		got, err := s.GetFund(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), got.CurrentAmount)
	})

	t.Run("user history and customer lookup", func(t *testing.T) {
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			u, err := tx.GetUserByCustomerRefForUpdate(ctx, admin.CustomerRef)
			if err != nil {
				return err
			}
			u.SubscriptionRef = "sub_1"
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
			return tx.AppendHistory(ctx, &model.HistoryEntry{
				ID:       uuid.NewString(),
				UserID:   u.ID,
				FundID:   fund.ID,
				Amount:   300,
				Interval: model.IntervalMonth,
				Source:   model.SourceSubscription,
				PaidAt:   now,
			})
		})
		require.NoError(t, err)

		history, err := s.ListHistory(ctx, admin.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.SourceSubscription, history[0].Source)

		u, err := s.GetUser(ctx, admin.ID)
		require.NoError(t, err)
		assert.Equal(t, "sub_1", u.SubscriptionRef)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetUserByCustomerRefForUpdate(ctx, "cus_unknown_"+uuid.NewString())
			return err
		})
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("payment events", func(t *testing.T) {
		key := "in_" + uuid.NewString()
		ev := model.PaymentEvent{EventID: "evt_1", InvoiceID: key, AmountMinor: 300, OccurredAt: now}

		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetPaymentEvent(ctx, key)
			require.ErrorIs(t, err, ErrPaymentEventNotFound)
			return tx.SavePaymentEvent(ctx, model.NewPaymentEventRecord(ev, model.PaymentEventApplied, ""))
		})
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			rec, err := tx.GetPaymentEvent(ctx, key)
			if err != nil {
				return err
			}
			assert.True(t, rec.Final())
			assert.Equal(t, int64(300), rec.AmountMinor)
			return nil
		})
		require.NoError(t, err)

		failedKey := "in_" + uuid.NewString()
		failed := model.NewPaymentEventRecord(model.PaymentEvent{InvoiceID: failedKey, OccurredAt: now}, model.PaymentEventFailed, "boom")
		failed.UpdatedAt = now
		require.NoError(t, s.SavePaymentEvent(ctx, failed))

		list, err := s.ListPaymentEvents(ctx, model.PaymentEventFailed, 0)
		require.NoError(t, err)
		var keys []string
		for _, rec := range list {
			keys = append(keys, rec.Key)
		}
		assert.Contains(t, keys, failedKey)
		assert.NotContains(t, keys, key)
	})

	t.Run("failed events oldest first", func(t *testing.T) {
		newer := model.NewPaymentEventRecord(model.PaymentEvent{InvoiceID: "in_" + uuid.NewString()}, model.PaymentEventFailed, "boom")
		newer.UpdatedAt = now.Add(-time.Hour)
		older := model.NewPaymentEventRecord(model.PaymentEvent{InvoiceID: "in_" + uuid.NewString()}, model.PaymentEventFailed, "boom")
		older.UpdatedAt = now.Add(-2 * time.Hour)
		require.NoError(t, s.SavePaymentEvent(ctx, newer))
		require.NoError(t, s.SavePaymentEvent(ctx, older))

		list, err := s.ListPaymentEvents(ctx, model.PaymentEventFailed, 0)
		require.NoError(t, err)
		pos := make(map[string]int, len(list))
		for i, rec := range list {
			pos[rec.Key] = i
		}
		require.Contains(t, pos, older.Key)
		require.Contains(t, pos, newer.Key)
		assert.Less(t, pos[older.Key], pos[newer.Key])
		for i := 1; i < len(list); i++ {
			assert.False(t, list[i].UpdatedAt.Before(list[i-1].UpdatedAt), "events must be ordered by update time")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestMemoryStoreCreateFundTwice(t *testing.T) {
	s := NewMemoryStore()
	f := &model.Fund{ID: "f1", TargetAmount: 100, IsActive: true}

	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.CreateFund(ctx, f); err != nil {
			return err
		}
		return tx.CreateFund(ctx, f)
	})
	require.Error(t, err)

	_, err = s.GetFund(context.Background(), "f1")
	require.ErrorIs(t, err, ErrFundNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u1", Email: "a@example.com", FundIDs: []string{"f1"}}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.FundIDs[0] = "changed"
	u.Balance = 999

	again, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, again.FundIDs)
	assert.Zero(t, again.Balance)
}
