package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription: периодическая оплата услуги со счёта во внешнем банке.
type Subscription struct {
	ID                  string
	ClientID            string
	ServiceID           string
	CustomerTaxID       string
	SourceAccountNumber string
	// Amount: цена периода без налога, как и цены каталога.
	Amount decimal.Decimal
	// PeriodDays: длина периода продления.
	PeriodDays    int
	NextRenewalAt time.Time
	Active        bool
}

// Due сообщает, пора ли продлевать подписку.
func (s Subscription) Due(now time.Time) bool {
	return s.Active && !s.NextRenewalAt.After(now)
}

// NextAfterRenewal возвращает дату следующего продления.
func (s Subscription) NextAfterRenewal() time.Time {
	period := s.PeriodDays
	if period <= 0 {
		period = 30
	}
	return s.NextRenewalAt.AddDate(0, 0, period)
}
