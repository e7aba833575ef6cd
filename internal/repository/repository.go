// Package repository содержит реализации хранилища платформы пожертвований: PostgreSQL, Firestore и память.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/donations-system/internal/model"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrFundNotFound возвращается, если сбор не найден.
	ErrFundNotFound = errors.New("fund not found")
	// ErrPaymentEventNotFound возвращается, если событие оплаты ещё не сохранялось.
	ErrPaymentEventNotFound = errors.New("payment event not found")
)

// Tx описывает операции, выполняемые внутри одной транзакции хранилища.
// Методы *ForUpdate блокируют запись до конца транзакции.
type Tx interface {
	GetFundForUpdate(ctx context.Context, id string) (*model.Fund, error)
	CreateFund(ctx context.Context, f *model.Fund) error
	SaveFund(ctx context.Context, f *model.Fund) error
	AppendDonation(ctx context.Context, d *model.Donation) error

	GetUserForUpdate(ctx context.Context, id string) (*model.User, error)
	GetUserByCustomerRefForUpdate(ctx context.Context, customerRef string) (*model.User, error)
	SaveUser(ctx context.Context, u *model.User) error
	AppendHistory(ctx context.Context, h *model.HistoryEntry) error

	GetPaymentEvent(ctx context.Context, key string) (*model.PaymentEventRecord, error)
	SavePaymentEvent(ctx context.Context, rec *model.PaymentEventRecord) error
}

// Store описывает хранилище целиком: транзакции и чтения вне транзакций.
type Store interface {
	Close() error
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetFund(ctx context.Context, id string) (*model.Fund, error)
	ListDonations(ctx context.Context, fundID string, limit int) ([]model.Donation, error)
	ListHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error)

	SavePaymentEvent(ctx context.Context, rec *model.PaymentEventRecord) error
	ListPaymentEvents(ctx context.Context, status model.PaymentEventStatus, limit int) ([]model.PaymentEventRecord, error)
}
