package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale: количество знаков после запятой во всех денежных суммах.
const MoneyScale = 2

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPendingPayment: заказ создан, ждём подтверждения от платёжного процессора.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusConfirmed: оплата прошла, заказ подтверждён.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusCompleted: заказ исполнен, отмена невозможна.
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusConfirmed, OrderStatusCancelled, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// LineKind: вид позиции заказа.
type LineKind string

const (
	// LineKindProduct: товар из каталога продуктов.
	LineKindProduct LineKind = "product"
	// LineKindService: услуга с фиксированной ценой.
	LineKindService LineKind = "service"
	// LineKindTicketed: услуга с местами и тарифом (тип билета).
	LineKindTicketed LineKind = "ticketed"
	// LineKindDebt: погашение внешнего долга, цена приходит от банка.
	LineKindDebt LineKind = "debt"
)

// Valid проверяет, что вид позиции известен.
func (k LineKind) Valid() bool {
	switch k {
	case LineKindProduct, LineKindService, LineKindTicketed, LineKindDebt:
		return true
	default:
		return false
	}
}

// Seat: место в зале (ряд + колонка).
type Seat struct {
	Row    string `json:"row"`
	Column int    `json:"column"`
}

// OrderLine: позиция заказа. Неизменяема после создания заказа.
type OrderLine struct {
	ID string
	// Kind определяет, из какого каталога берётся цена.
	Kind LineKind
	// ProductID и ServiceID взаимоисключающие.
	ProductID    string
	ServiceID    string
	TicketTypeID string
	Seats        []Seat
	// DebtRef: внешний идентификатор долга в банке.
	DebtRef   string
	Qty       int32
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// ItemID возвращает идентификатор товара или услуги, на который ссылается позиция.
func (l OrderLine) ItemID() string {
	if l.ProductID != "" {
		return l.ProductID
	}
	return l.ServiceID
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID        string
	ClientID  string
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	Status    OrderStatus
	Note      string
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDebtLine сообщает, погашает ли заказ внешний долг.
func (o *Order) HasDebtLine() bool {
	_, ok := o.DebtLine()
	return ok
}

// DebtLine возвращает первую долговую позицию заказа.
func (o *Order) DebtLine() (OrderLine, bool) {
	for _, line := range o.Lines {
		if line.Kind == LineKindDebt {
			return line, true
		}
	}
	return OrderLine{}, false
}

// Description формирует человекочитаемое описание для платёжных систем.
func (o *Order) Description() string {
	if line, ok := o.DebtLine(); ok {
		return "debt payment " + line.DebtRef
	}
	return "order " + o.ID
}

// RoundMoney приводит сумму к денежной точности.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// ComputeTax считает налог: round(subtotal * rate, 2).
func ComputeTax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(subtotal.Mul(rate))
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ClientID == "" {
		errs = append(errs, ErrClientRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}

	calc := decimal.Zero
	for _, line := range o.Lines {
		errs = append(errs, line.Validate()...)
		calc = calc.Add(line.Subtotal)
	}
	if !calc.Equal(o.Subtotal) {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if !o.Subtotal.Add(o.Tax).Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Validate проверяет позицию заказа.
func (l *OrderLine) Validate() []error {
	var errs []error

	if !l.Kind.Valid() {
		errs = append(errs, ErrLineKindInvalid)
	}
	if (l.ProductID == "") == (l.ServiceID == "") {
		errs = append(errs, ErrLineItemRefInvalid)
	}
	if l.Qty <= 0 {
		errs = append(errs, ErrLineQtyInvalid)
	}
	if l.UnitPrice.IsNegative() {
		errs = append(errs, ErrLinePriceInvalid)
	}
	if !l.UnitPrice.Mul(decimal.NewFromInt32(l.Qty)).Equal(l.Subtotal) {
		errs = append(errs, ErrLineSubtotalMismatch)
	}

	return errs
}

// LineRequest: позиция корзины до расчёта цены.
type LineRequest struct {
	Kind         LineKind
	ItemID       string
	TicketTypeID string
	Seats        []Seat
	Qty          int32
	DebtRef      string
	// DebtAmount задаёт банк, каталог для долга не запрашивается.
	DebtAmount decimal.Decimal
}

// Validate проверяет форму позиции корзины.
func (r LineRequest) Validate() error {
	if !r.Kind.Valid() {
		return ErrLineKindInvalid
	}
	if r.ItemID == "" {
		return ErrLineItemRefInvalid
	}
	if r.Qty <= 0 {
		return ErrLineQtyInvalid
	}
	switch r.Kind {
	case LineKindTicketed:
		if r.TicketTypeID == "" {
			return ErrTicketTypeNotFound
		}
		if err := ValidateSeats(r.Seats); err != nil {
			return err
		}
		if len(r.Seats) != int(r.Qty) {
			return ErrSeatsInvalid
		}
	case LineKindDebt:
		if r.DebtRef == "" || !r.DebtAmount.IsPositive() {
			return ErrPaymentOriginIncomplete
		}
	}
	return nil
}
