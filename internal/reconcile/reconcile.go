// Package reconcile переводит проверенные события платёжного провайдера в изменения сбора и истории пользователя.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/donations-system/internal/ledger"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/repository"
	"github.com/mmeshcher/donations-system/internal/wallet"
)

// Outcome описывает итог обработки события.
type Outcome string

const (
	// OutcomeApplied событие зачислено в сбор и записано в историю пользователя.
	OutcomeApplied Outcome = "applied"
	// OutcomeDropped событие отброшено по бизнес-причине и повторно не обрабатывается.
	OutcomeDropped Outcome = "dropped"
	// OutcomeDuplicate событие с этим ключом уже обработано.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed хранилище недоступно, событие будет обработано повторно.
	OutcomeFailed Outcome = "failed"
)

// Причины отбрасывания событий.
const (
	ReasonUnsupportedEvent = "unsupported event type"
	ReasonMissingFund      = "missing fund reference"
	ReasonUnknownCustomer  = "no user for customer reference"
	ReasonUnknownFund      = "fund not found"
	ReasonFundClosed       = "fund already closed"
	ReasonInvalidAmount    = "invalid amount"
)

// Result содержит итог обработки одного события.
type Result struct {
	Outcome Outcome
	Reason  string
	Fund    *model.Fund
}

// Reconciler применяет события провайдера к хранилищу в одной транзакции.
type Reconciler struct {
	store       repository.Store
	ledger      *ledger.Ledger
	wallet      *wallet.Wallet
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// New создаёт Reconciler. maxAttempts ограничивает число попыток для событий со статусом failed.
func New(store repository.Store, l *ledger.Ledger, w *wallet.Wallet, logger *zap.Logger, maxAttempts int) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Reconciler{
		store:       store,
		ledger:      l,
		wallet:      w,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Reconcile обрабатывает проверенное событие. Ошибки не возвращаются: провайдер всегда получает подтверждение,
// а сбои хранилища фиксируются со статусом failed для фонового повтора.
func (r *Reconciler) Reconcile(ctx context.Context, ev model.PaymentEvent) Result {
	return r.reconcile(ctx, ev, 0)
}

func (r *Reconciler) reconcile(ctx context.Context, ev model.PaymentEvent, attempts int) Result {
	log := r.logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("key", ev.Key()),
		zap.String("fund_id", ev.FundID),
		zap.String("customer", ev.CustomerRef),
		zap.Int64("amount", ev.AmountMinor),
	)

	if ev.Type != "" && ev.Type != model.EventCheckoutCompleted {
		log.Info("payment event dropped", zap.String("reason", ReasonUnsupportedEvent), zap.String("type", ev.Type))
		return Result{Outcome: OutcomeDropped, Reason: ReasonUnsupportedEvent}
	}

	var res Result
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res = Result{}

		prev, err := tx.GetPaymentEvent(ctx, ev.Key())
		switch {
		case err == nil && prev.Final():
			res = Result{Outcome: OutcomeDuplicate, Reason: string(prev.Status)}
			return nil
		case err == nil:
			attempts = prev.Attempts
		case errors.Is(err, repository.ErrPaymentEventNotFound):
		default:
			return fmt.Errorf("get payment event: %w", err)
		}

		res, err = r.apply(ctx, tx, ev)
		if err != nil {
			return err
		}

		status := model.PaymentEventApplied
		if res.Outcome == OutcomeDropped {
			status = model.PaymentEventDropped
		}
		rec := model.NewPaymentEventRecord(ev, status, res.Reason)
		rec.Attempts = attempts + 1
		rec.UpdatedAt = r.now()
		return tx.SavePaymentEvent(ctx, rec)
	})
	if err != nil {
		return r.fail(ctx, log, ev, attempts+1, err)
	}

	switch res.Outcome {
	case OutcomeApplied:
		log.Info("payment event applied", zap.Int64("fund_amount", res.Fund.CurrentAmount), zap.Bool("fund_active", res.Fund.IsActive))
	case OutcomeDuplicate:
		log.Info("payment event already processed", zap.String("status", res.Reason))
	default:
		log.Info("payment event dropped", zap.String("reason", res.Reason))
	}
	return res
}

// apply выполняет все проверки, приводящие к отбрасыванию события, до первой записи в хранилище.
// Ошибка означает сбой хранилища.
func (r *Reconciler) apply(ctx context.Context, tx repository.Tx, ev model.PaymentEvent) (Result, error) {
	if ev.FundID == "" {
		return Result{Outcome: OutcomeDropped, Reason: ReasonMissingFund}, nil
	}

	u, err := tx.GetUserByCustomerRefForUpdate(ctx, ev.CustomerRef)
	if errors.Is(err, repository.ErrUserNotFound) {
		return Result{Outcome: OutcomeDropped, Reason: ReasonUnknownCustomer}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get user by customer: %w", err)
	}

	f, err := r.ledger.ApplyProviderDonation(ctx, tx, ev, u.ID)
	switch {
	case errors.Is(err, repository.ErrFundNotFound):
		return Result{Outcome: OutcomeDropped, Reason: ReasonUnknownFund}, nil
	case errors.Is(err, ledger.ErrFundClosed):
		return Result{Outcome: OutcomeDropped, Reason: ReasonFundClosed}, nil
	case errors.Is(err, model.ErrInvalidAmount):
		return Result{Outcome: OutcomeDropped, Reason: ReasonInvalidAmount}, nil
	case err != nil:
		return Result{}, fmt.Errorf("apply provider donation: %w", err)
	}

	// В историю пользователя попадает та же периодичность, что и в журнал сбора.
	if ev.Interval == "" {
		ev.Interval = f.Plan
	}
	if _, err := r.wallet.RecordProviderDonation(ctx, tx, u, ev); err != nil {
		return Result{}, fmt.Errorf("record provider donation: %w", err)
	}

	return Result{Outcome: OutcomeApplied, Fund: f}, nil
}

func (r *Reconciler) fail(ctx context.Context, log *zap.Logger, ev model.PaymentEvent, attempts int, cause error) Result {
	log.Error("reconciliation failed", zap.Int("attempts", attempts), zap.Error(cause))

	rec := model.NewPaymentEventRecord(ev, model.PaymentEventFailed, cause.Error())
	rec.Attempts = attempts
	rec.UpdatedAt = r.now()

	// Окончательный статус, записанный параллельной доставкой, не перезаписывается.
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		prev, err := tx.GetPaymentEvent(ctx, rec.Key)
		if err == nil && prev.Final() {
			return nil
		}
		if err != nil && !errors.Is(err, repository.ErrPaymentEventNotFound) {
			return err
		}
		return tx.SavePaymentEvent(ctx, rec)
	})
	if err != nil {
		log.Error("failed to record failed payment event", zap.Error(err))
	}

	return Result{Outcome: OutcomeFailed, Reason: cause.Error()}
}

// RetryFailed повторно обрабатывает не больше batch событий со статусом failed, пока не исчерпан лимит попыток.
// События с исчерпанным лимитом остаются в статусе failed. Возвращает число обработанных событий.
func (r *Reconciler) RetryFailed(ctx context.Context, batch int) (int, error) {
	records, err := r.store.ListPaymentEvents(ctx, model.PaymentEventFailed, 0)
	if err != nil {
		return 0, fmt.Errorf("list failed payment events: %w", err)
	}

	processed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if rec.Attempts >= r.maxAttempts {
			continue
		}
		if batch > 0 && processed == batch {
			break
		}
		res := r.reconcile(ctx, rec.Event(), rec.Attempts)
		if res.Outcome == OutcomeFailed && rec.Attempts+1 >= r.maxAttempts {
			r.logger.Warn("payment event retries exhausted",
				zap.String("key", rec.Key),
				zap.Int("attempts", rec.Attempts+1),
			)
		}
		processed++
	}
	return processed, nil
}
