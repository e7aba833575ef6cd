package model

import "time"

// EventCheckoutCompleted тип события провайдера об успешно оплаченной сессии.
const EventCheckoutCompleted = "checkout.session.completed"

// PaymentEvent описывает проверенное уведомление платёжного провайдера об оплате.
type PaymentEvent struct {
	EventID         string
	Type            string
	CustomerRef     string
	AmountMinor     int64
	InvoiceID       string
	SubscriptionRef string
	Interval        Interval
	FundID          string
	OccurredAt      time.Time
}

// Key возвращает ключ идемпотентности события: номер счёта, а при его отсутствии идентификатор события.
func (e PaymentEvent) Key() string {
	if e.InvoiceID != "" {
		return e.InvoiceID
	}
	return e.EventID
}

// PaymentEventStatus описывает итог обработки события.
type PaymentEventStatus string

const (
	// PaymentEventReceived означает, что событие принято, но ещё не обработано.
	PaymentEventReceived PaymentEventStatus = "received"
	PaymentEventApplied  PaymentEventStatus = "applied"
	PaymentEventDropped  PaymentEventStatus = "dropped"
	PaymentEventFailed   PaymentEventStatus = "failed"
)

// PaymentEventRecord хранит обработанное событие для дедупликации и повторных попыток.
type PaymentEventRecord struct {
	Key             string             `firestore:"key"`
	EventID         string             `firestore:"eventId"`
	Type            string             `firestore:"type"`
	CustomerRef     string             `firestore:"customerRef"`
	AmountMinor     int64              `firestore:"amountMinor"`
	InvoiceID       string             `firestore:"invoiceId"`
	SubscriptionRef string             `firestore:"subscriptionRef"`
	Interval        Interval           `firestore:"interval"`
	FundID          string             `firestore:"fundId"`
	OccurredAt      time.Time          `firestore:"occurredAt"`
	Status          PaymentEventStatus `firestore:"status"`
	Reason          string             `firestore:"reason"`
	Attempts        int                `firestore:"attempts"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

// NewPaymentEventRecord создаёт запись для события с указанным статусом.
func NewPaymentEventRecord(e PaymentEvent, status PaymentEventStatus, reason string) *PaymentEventRecord {
	return &PaymentEventRecord{
		Key:             e.Key(),
		EventID:         e.EventID,
		Type:            e.Type,
		CustomerRef:     e.CustomerRef,
		AmountMinor:     e.AmountMinor,
		InvoiceID:       e.InvoiceID,
		SubscriptionRef: e.SubscriptionRef,
		Interval:        e.Interval,
		FundID:          e.FundID,
		OccurredAt:      e.OccurredAt,
		Status:          status,
		Reason:          reason,
	}
}

// Event восстанавливает событие из сохранённой записи.
func (r *PaymentEventRecord) Event() PaymentEvent {
	return PaymentEvent{
		EventID:         r.EventID,
		Type:            r.Type,
		CustomerRef:     r.CustomerRef,
		AmountMinor:     r.AmountMinor,
		InvoiceID:       r.InvoiceID,
		SubscriptionRef: r.SubscriptionRef,
		Interval:        r.Interval,
		FundID:          r.FundID,
		OccurredAt:      r.OccurredAt,
	}
}

// Final сообщает, что событие уже обработано окончательно и повторная доставка ничего не меняет.
func (r *PaymentEventRecord) Final() bool {
	return r.Status == PaymentEventApplied || r.Status == PaymentEventDropped
}
