// Package wallet управляет балансом пользователя и историей его пожертвований.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/repository"
)

var (
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrMissingFundReference возвращается, если в оплате провайдера не указан сбор.
	ErrMissingFundReference = errors.New("missing fund reference")
)

// Wallet изменяет кошельки и историю пользователей внутри транзакции хранилища.
type Wallet struct {
	now func() time.Time
}

// New создаёт Wallet. Если now равен nil, используется time.Now.
func New(now func() time.Time) *Wallet {
	if now == nil {
		now = time.Now
	}
	return &Wallet{now: now}
}

// DebitForDonation списывает пожертвование с баланса и добавляет запись в историю.
// Баланс никогда не становится отрицательным.
func (w *Wallet) DebitForDonation(ctx context.Context, tx repository.Tx, userID, fundID string, amount int64, interval model.Interval) (*model.User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAmount, amount)
	}

	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.Balance < amount {
		return nil, ErrInsufficientBalance
	}

	now := w.now()
	u.Balance -= amount
	u.UpdatedAt = now
	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	err = tx.AppendHistory(ctx, &model.HistoryEntry{
		ID:       uuid.NewString(),
		UserID:   u.ID,
		FundID:   fundID,
		Amount:   amount,
		Interval: interval,
		Source:   model.SourceWallet,
		PaidAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	return u, nil
}

// CreditWallet пополняет баланс пользователя на положительную сумму. Пополнение сверх int64 отклоняется.
func (w *Wallet) CreditWallet(ctx context.Context, tx repository.Tx, userID string, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAmount, amount)
	}

	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if amount > math.MaxInt64-u.Balance {
		return nil, fmt.Errorf("%w: balance overflow", model.ErrInvalidAmount)
	}

	u.Balance += amount
	u.UpdatedAt = w.now()
	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}

// RecordProviderDonation записывает подтверждённую провайдером оплату в историю пользователя.
// Баланс кошелька не меняется: оплата прошла внешним способом.
func (w *Wallet) RecordProviderDonation(ctx context.Context, tx repository.Tx, u *model.User, ev model.PaymentEvent) (*model.User, error) {
	if ev.FundID == "" {
		return nil, ErrMissingFundReference
	}

	paidAt := ev.OccurredAt
	if paidAt.IsZero() {
		paidAt = w.now()
	}

	err := tx.AppendHistory(ctx, &model.HistoryEntry{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		FundID:    ev.FundID,
		Amount:    ev.AmountMinor,
		Interval:  ev.Interval,
		Source:    model.SourceSubscription,
		PaidAt:    paidAt,
		InvoiceID: ev.InvoiceID,
	})
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	if ev.SubscriptionRef != "" && ev.SubscriptionRef != u.SubscriptionRef {
		u.SubscriptionRef = ev.SubscriptionRef
		u.UpdatedAt = w.now()
		if err := tx.SaveUser(ctx, u); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
	}

	return u, nil
}

// UpdateBankDetails сохраняет банковские реквизиты пользователя.
func (w *Wallet) UpdateBankDetails(ctx context.Context, tx repository.Tx, userID, details string) (*model.User, error) {
	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	u.BankDetails = details
	u.UpdatedAt = w.now()
	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}
