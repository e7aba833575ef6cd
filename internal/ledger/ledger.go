// Package ledger ведёт учёт сборов: зачисляет пожертвования и закрывает сбор по достижении цели.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/repository"
)

var (
	// ErrFundClosed возвращается при пожертвовании в неактивный сбор.
	ErrFundClosed = errors.New("fund is no longer active")
	// ErrInvalidFund возвращается, если параметры нового сбора некорректны.
	ErrInvalidFund = errors.New("invalid fund")
)

// Ledger изменяет сборы только внутри транзакции хранилища.
type Ledger struct {
	now func() time.Time
}

// New создаёт Ledger. Если now равен nil, используется time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Credit зачисляет amount в сбор и закрывает его, когда собранная сумма достигает цели.
// Это единственное место, где меняются CurrentAmount и IsActive при пожертвовании.
func Credit(f *model.Fund, amount int64, at time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", model.ErrInvalidAmount, amount)
	}
	if !f.IsActive {
		return ErrFundClosed
	}
	if amount > math.MaxInt64-f.CurrentAmount {
		return fmt.Errorf("%w: fund amount overflow", model.ErrInvalidAmount)
	}

	f.CurrentAmount += amount
	if f.CurrentAmount >= f.TargetAmount {
		f.IsActive = false
	}
	f.UpdatedAt = at
	return nil
}

// ApplyDonation зачисляет пожертвование из кошелька и добавляет запись в журнал сбора.
func (l *Ledger) ApplyDonation(ctx context.Context, tx repository.Tx, fundID, donorID string, amount int64, interval model.Interval) (*model.Fund, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAmount, amount)
	}

	f, err := tx.GetFundForUpdate(ctx, fundID)
	if err != nil {
		return nil, err
	}

	if interval == "" {
		interval = f.Plan
	}

	now := l.now()
	if err := Credit(f, amount, now); err != nil {
		return nil, err
	}

	if err := tx.SaveFund(ctx, f); err != nil {
		return nil, fmt.Errorf("save fund: %w", err)
	}

	err = tx.AppendDonation(ctx, &model.Donation{
		ID:        uuid.NewString(),
		FundID:    f.ID,
		DonorID:   donorID,
		Amount:    amount,
		Interval:  interval,
		Source:    model.SourceWallet,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("append donation: %w", err)
	}

	return f, nil
}

// ApplyProviderDonation зачисляет подтверждённую провайдером оплату подписки.
// Сумма события уже в копейках, в журнал записывается оплативший пользователь.
func (l *Ledger) ApplyProviderDonation(ctx context.Context, tx repository.Tx, ev model.PaymentEvent, donorID string) (*model.Fund, error) {
	f, err := tx.GetFundForUpdate(ctx, ev.FundID)
	if err != nil {
		return nil, err
	}

	interval := ev.Interval
	if interval == "" {
		interval = f.Plan
	}

	if err := Credit(f, ev.AmountMinor, l.now()); err != nil {
		return nil, err
	}

	if err := tx.SaveFund(ctx, f); err != nil {
		return nil, fmt.Errorf("save fund: %w", err)
	}

	createdAt := ev.OccurredAt
	if createdAt.IsZero() {
		createdAt = f.UpdatedAt
	}

	err = tx.AppendDonation(ctx, &model.Donation{
		ID:        uuid.NewString(),
		FundID:    f.ID,
		DonorID:   donorID,
		Amount:    ev.AmountMinor,
		Interval:  interval,
		Source:    model.SourceSubscription,
		InvoiceID: ev.InvoiceID,
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("append donation: %w", err)
	}

	return f, nil
}

// FundParams описывает новый сбор.
type FundParams struct {
	AdminID      string
	Name         string
	Description  string
	TargetAmount int64
	Plan         model.Interval
}

// CreateFund создаёт активный сбор с нулевой суммой.
func (l *Ledger) CreateFund(ctx context.Context, tx repository.Tx, p FundParams) (*model.Fund, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidFund)
	}
	if p.TargetAmount <= 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", model.ErrInvalidAmount)
	}

	plan := p.Plan
	if plan == "" {
		plan = model.IntervalMonth
	}

	now := l.now()
	f := &model.Fund{
		ID:           uuid.NewString(),
		AdminID:      p.AdminID,
		Name:         name,
		Description:  strings.TrimSpace(p.Description),
		TargetAmount: p.TargetAmount,
		Plan:         plan,
		IsActive:     true,
		StartDate:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := tx.CreateFund(ctx, f); err != nil {
		return nil, fmt.Errorf("create fund: %w", err)
	}

	return f, nil
}

// DeactivateFund закрывает сбор вручную. Запись сбора и его журнал сохраняются.
func (l *Ledger) DeactivateFund(ctx context.Context, tx repository.Tx, fundID string) (*model.Fund, error) {
	f, err := tx.GetFundForUpdate(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return f, nil
	}

	f.IsActive = false
	f.UpdatedAt = l.now()
	if err := tx.SaveFund(ctx, f); err != nil {
		return nil, fmt.Errorf("save fund: %w", err)
	}
	return f, nil
}

// Analytics строит проекцию состояния сбора по его журналу. log упорядочен от новых к старым.
func Analytics(f *model.Fund, log []model.Donation, recentLimit int) *model.FundAnalytics {
	a := &model.FundAnalytics{Fund: f, DonationCount: len(log)}

	donors := make(map[string]struct{})
	for _, d := range log {
		a.LoggedTotal += d.Amount
		donors[d.DonorID] = struct{}{}
	}
	a.DonorCount = len(donors)

	if f.TargetAmount > 0 {
		a.Progress = float64(f.CurrentAmount) * 100 / float64(f.TargetAmount)
	}

	if recentLimit > 0 && len(log) > recentLimit {
		log = log[:recentLimit]
	}
	a.Recent = log
	return a
}
