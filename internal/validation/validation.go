// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"

	"github.com/mmeshcher/donations-system/internal/model"
)

// IsValidInterval проверяет, что периодичность пожертвования известна.
// Пустая строка допустима: тогда используется план сбора.
func IsValidInterval(interval model.Interval) bool {
	switch interval {
	case "", model.IntervalOneTime, model.IntervalDay, model.IntervalWeek,
		model.IntervalMonth, model.IntervalQuarter, model.IntervalYear:
		return true
	}
	return false
}

// IsValidPriceID проверяет формат идентификатора цены Stripe.
func IsValidPriceID(id string) bool {
	rest, ok := strings.CutPrefix(id, "price_")
	if !ok || rest == "" {
		return false
	}
	for _, ch := range rest {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_') {
			return false
		}
	}
	return true
}

// NormalizeEmail приводит email к нижнему регистру и проверяет его формат.
func NormalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}
