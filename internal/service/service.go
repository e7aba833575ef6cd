// Package service реализует бизнес-логику платформы пожертвований.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/donations-system/internal/ledger"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/payment"
	"github.com/mmeshcher/donations-system/internal/reconcile"
	"github.com/mmeshcher/donations-system/internal/repository"
	"github.com/mmeshcher/donations-system/internal/validation"
	"github.com/mmeshcher/donations-system/internal/wallet"
)

const (
	recentDonationsLimit = 10
	retryBatchSize       = 100
)

var (
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation error")
	// ErrPaymentsUnavailable возвращается, если платёжный провайдер не настроен.
	ErrPaymentsUnavailable = errors.New("payment provider is not configured")
)

// PaymentProvider создаёт клиентов и сессии оплаты у платёжного провайдера.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error)
}

// EventVerifier проверяет подпись уведомления провайдера и разбирает его.
type EventVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (model.PaymentEvent, error)
}

// Deps содержит зависимости сервиса. Payments и Events могут быть nil, тогда операции
// с провайдером возвращают ErrPaymentsUnavailable.
type Deps struct {
	Store          repository.Store
	Ledger         *ledger.Ledger
	Wallet         *wallet.Wallet
	Reconciler     *reconcile.Reconciler
	Payments       PaymentProvider
	Events         EventVerifier
	Logger         *zap.Logger
	DefaultBalance int64
}

// Service содержит бизнес-логику платформы пожертвований.
type Service struct {
	store          repository.Store
	ledger         *ledger.Ledger
	wallet         *wallet.Wallet
	reconciler     *reconcile.Reconciler
	payments       PaymentProvider
	events         EventVerifier
	logger         *zap.Logger
	defaultBalance int64
	now            func() time.Time
}

// NewService создаёт сервис. Незаданные Ledger, Wallet и Reconciler создаются по умолчанию.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := d.Ledger
	if l == nil {
		l = ledger.New(nil)
	}
	w := d.Wallet
	if w == nil {
		w = wallet.New(nil)
	}
	r := d.Reconciler
	if r == nil {
		r = reconcile.New(d.Store, l, w, logger, 0)
	}

	return &Service{
		store:          d.Store,
		ledger:         l,
		wallet:         w,
		reconciler:     r,
		payments:       d.Payments,
		events:         d.Events,
		logger:         logger,
		defaultBalance: d.DefaultBalance,
		now:            time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// UserParams описывает нового пользователя. ID задаётся, когда пользователь уже заведён
// у внешнего провайдера аутентификации.
type UserParams struct {
	ID          string
	Name        string
	Email       string
	Role        model.Role
	BankDetails string
}

// CreateUser создаёт клиента у платёжного провайдера и затем пользователя с начальным балансом.
// Если провайдер вернул ошибку, пользователь не создаётся.
func (s *Service) CreateUser(ctx context.Context, p UserParams) (*model.User, error) {
	email, ok := validation.NormalizeEmail(p.Email)
	if !ok {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	role := p.Role
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, repository.ErrUserExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	var customerRef string
	if s.payments != nil {
		ref, err := s.payments.CreateCustomer(ctx, email, name)
		if err != nil {
			return nil, err
		}
		customerRef = ref
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	u := &model.User{
		ID:          id,
		Name:        name,
		Email:       email,
		Role:        role,
		Balance:     s.defaultBalance,
		BankDetails: strings.TrimSpace(p.BankDetails),
		FundIDs:     []string{},
		CustomerRef: customerRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if customerRef != "" {
			s.logger.Warn("payment customer left without user", zap.String("customer", customerRef), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// EnsureAdmin возвращает администратора с указанным email, создавая его при отсутствии.
func (s *Service) EnsureAdmin(ctx context.Context, email, name string) (*model.User, error) {
	normalized, ok := validation.NormalizeEmail(email)
	if !ok {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	u, err := s.store.GetUserByEmail(ctx, normalized)
	if err == nil {
		if u.Role != model.RoleAdmin {
			s.logger.Warn("bootstrap email belongs to a non-admin user", zap.String("user_id", u.ID))
		}
		return u, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	return s.CreateUser(ctx, UserParams{Name: name, Email: normalized, Role: model.RoleAdmin})
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// GetDonationHistory возвращает историю пожертвований пользователя.
func (s *Service) GetDonationHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, userID)
}

// CreditWallet пополняет кошелёк пользователя.
func (s *Service) CreditWallet(ctx context.Context, userID string, amount int64) (*model.User, error) {
	var u *model.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		u, err = s.wallet.CreditWallet(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateBankDetails сохраняет банковские реквизиты пользователя.
func (s *Service) UpdateBankDetails(ctx context.Context, userID, details string) (*model.User, error) {
	details = strings.TrimSpace(details)
	if details == "" {
		return nil, fmt.Errorf("%w: bank details are required", ErrValidation)
	}

	var u *model.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		u, err = s.wallet.UpdateBankDetails(ctx, tx, userID, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateFund создаёт сбор и добавляет его в список сборов администратора.
func (s *Service) CreateFund(ctx context.Context, adminID string, p ledger.FundParams) (*model.Fund, error) {
	if !validation.IsValidInterval(p.Plan) {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrValidation, p.Plan)
	}
	p.AdminID = adminID

	var f *model.Fund
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		admin, err := tx.GetUserForUpdate(ctx, adminID)
		if err != nil {
			return err
		}
		if admin.Role != model.RoleAdmin {
			return ErrForbidden
		}

		f, err = s.ledger.CreateFund(ctx, tx, p)
		if err != nil {
			return err
		}

		admin.FundIDs = append(admin.FundIDs, f.ID)
		admin.UpdatedAt = s.now()
		if err := tx.SaveUser(ctx, admin); err != nil {
			return fmt.Errorf("save admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund created", zap.String("fund_id", f.ID), zap.String("admin_id", adminID), zap.Int64("target", f.TargetAmount))
	return f, nil
}

// GetFund возвращает сбор по идентификатору.
func (s *Service) GetFund(ctx context.Context, fundID string) (*model.Fund, error) {
	return s.store.GetFund(ctx, fundID)
}

// DeactivateFund закрывает сбор без удаления записей.
func (s *Service) DeactivateFund(ctx context.Context, fundID string) (*model.Fund, error) {
	var f *model.Fund
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		f, err = s.ledger.DeactivateFund(ctx, tx, fundID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fund deactivated", zap.String("fund_id", fundID))
	return f, nil
}

// GetFundAnalytics возвращает проекцию состояния сбора с последними пожертвованиями.
func (s *Service) GetFundAnalytics(ctx context.Context, fundID string) (*model.FundAnalytics, error) {
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return nil, err
	}

	log, err := s.store.ListDonations(ctx, fundID, 0)
	if err != nil {
		return nil, err
	}

	return ledger.Analytics(f, log, recentDonationsLimit), nil
}

// Donate списывает пожертвование с кошелька пользователя и зачисляет его в сбор в одной транзакции.
func (s *Service) Donate(ctx context.Context, userID, fundID string, amount int64, interval model.Interval) (*model.Fund, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAmount, amount)
	}
	if !validation.IsValidInterval(interval) {
		return nil, fmt.Errorf("%w: unknown interval %q", ErrValidation, interval)
	}

	var f *model.Fund
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		f, err = s.ledger.ApplyDonation(ctx, tx, fundID, userID, amount, interval)
		if err != nil {
			return err
		}
		recorded := interval
		if recorded == "" {
			recorded = f.Plan
		}
		_, err = s.wallet.DebitForDonation(ctx, tx, userID, fundID, amount, recorded)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("donation applied",
		zap.String("fund_id", fundID),
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("fund_amount", f.CurrentAmount),
		zap.Bool("fund_active", f.IsActive),
	)
	return f, nil
}

// CheckoutParams описывает запрос на создание сессии оплаты подписки.
type CheckoutParams struct {
	UserID   string
	PriceID  string
	FundID   string
	Interval model.Interval
}

// CreateCheckoutSession создаёт у провайдера сессию оплаты подписки на сбор. Пользователь
// может создать сессию только для себя, администратор для любого пользователя.
func (s *Service) CreateCheckoutSession(ctx context.Context, callerID string, callerRole model.Role, p CheckoutParams) (*model.CheckoutSession, error) {
	if p.UserID == "" {
		p.UserID = callerID
	}
	if callerRole != model.RoleAdmin && p.UserID != callerID {
		return nil, ErrForbidden
	}
	if !validation.IsValidPriceID(p.PriceID) {
		return nil, fmt.Errorf("%w: invalid price id", ErrValidation)
	}
	if !validation.IsValidInterval(p.Interval) {
		return nil, fmt.Errorf("%w: unknown interval %q", ErrValidation, p.Interval)
	}
	if s.payments == nil {
		return nil, ErrPaymentsUnavailable
	}

	u, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if u.CustomerRef == "" {
		return nil, fmt.Errorf("%w: user has no payment customer", ErrValidation)
	}

	f, err := s.store.GetFund(ctx, p.FundID)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return nil, ledger.ErrFundClosed
	}

	interval := p.Interval
	if interval == "" {
		interval = f.Plan
	}

	return s.payments.CreateCheckoutSession(ctx, model.CheckoutRequest{
		UserID:      u.ID,
		CustomerRef: u.CustomerRef,
		PriceID:     p.PriceID,
		FundID:      f.ID,
		Interval:    interval,
	})
}

// HandlePaymentWebhook проверяет подпись уведомления и передаёт событие на сверку.
// Ошибка возвращается только при недействительной подписи; после проверки уведомление
// всегда подтверждается.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Result, error) {
	if s.events == nil {
		return reconcile.Result{}, ErrPaymentsUnavailable
	}

	ev, err := s.events.ParseEvent(payload, signatureHeader)
	switch {
	case errors.Is(err, payment.ErrMalformedEvent):
		s.logger.Warn("payment event dropped", zap.String("reason", "malformed event"), zap.Error(err))
		return reconcile.Result{Outcome: reconcile.OutcomeDropped, Reason: "malformed event"}, nil
	case err != nil:
		s.logger.Warn("webhook signature rejected", zap.Error(err))
		return reconcile.Result{}, err
	}

	return s.reconciler.Reconcile(ctx, ev), nil
}

// RetryFailedPayments повторно обрабатывает события, сверка которых завершилась сбоем хранилища.
func (s *Service) RetryFailedPayments(ctx context.Context) error {
	n, err := s.reconciler.RetryFailed(ctx, retryBatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("failed payment events retried", zap.Int("count", n))
	}
	return nil
}
