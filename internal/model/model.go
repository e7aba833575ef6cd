// Package model содержит доменные сущности платформы пожертвований.
package model

import "time"

// Role описывает роль пользователя.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Interval описывает периодичность пожертвования.
type Interval string

const (
	IntervalOneTime Interval = "one-time"
	IntervalDay     Interval = "day"
	IntervalWeek    Interval = "week"
	IntervalMonth   Interval = "month"
	IntervalQuarter Interval = "quarter"
	IntervalYear    Interval = "year"
)

// DonationSource указывает, из какого источника оплачено пожертвование.
type DonationSource string

const (
	SourceWallet       DonationSource = "wallet"
	SourceSubscription DonationSource = "subscription"
)

// Fund представляет сбор средств с целевой суммой. Все суммы хранятся в копейках.
type Fund struct {
	ID            string    `firestore:"id"`
	AdminID       string    `firestore:"adminId"`
	Name          string    `firestore:"name"`
	Description   string    `firestore:"description"`
	TargetAmount  int64     `firestore:"targetAmount"`
	CurrentAmount int64     `firestore:"currentAmount"`
	Plan          Interval  `firestore:"plan"`
	IsActive      bool      `firestore:"isActive"`
	StartDate     time.Time `firestore:"startDate"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// Donation описывает запись в журнале пожертвований сбора.
type Donation struct {
	ID        string         `firestore:"id"`
	FundID    string         `firestore:"fundId"`
	DonorID   string         `firestore:"donorId"`
	Amount    int64          `firestore:"amount"`
	Interval  Interval       `firestore:"interval"`
	Source    DonationSource `firestore:"source"`
	InvoiceID string         `firestore:"invoiceId"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// User представляет пользователя платформы и его кошелёк.
type User struct {
	ID              string    `firestore:"id"`
	Name            string    `firestore:"name"`
	Email           string    `firestore:"email"`
	Role            Role      `firestore:"role"`
	Balance         int64     `firestore:"balance"`
	BankDetails     string    `firestore:"bankDetails"`
	FundIDs         []string  `firestore:"fundIds"`
	CustomerRef     string    `firestore:"customerRef"`
	SubscriptionRef string    `firestore:"subscriptionRef"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

// HistoryEntry описывает запись в истории пожертвований пользователя.
type HistoryEntry struct {
	ID        string         `firestore:"id"`
	UserID    string         `firestore:"userId"`
	FundID    string         `firestore:"fundId"`
	Amount    int64          `firestore:"amount"`
	Interval  Interval       `firestore:"interval"`
	Source    DonationSource `firestore:"source"`
	PaidAt    time.Time      `firestore:"paidAt"`
	InvoiceID string         `firestore:"invoiceId"`
}

// FundAnalytics содержит проекцию состояния сбора только для чтения.
type FundAnalytics struct {
	Fund          *Fund
	LoggedTotal   int64
	DonationCount int
	DonorCount    int
	Progress      float64
	Recent        []Donation
}

// CheckoutRequest описывает параметры создания сессии оплаты подписки.
type CheckoutRequest struct {
	UserID      string
	CustomerRef string
	PriceID     string
	FundID      string
	Interval    Interval
}

// CheckoutSession описывает созданную у платёжного провайдера сессию оплаты.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
