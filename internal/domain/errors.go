package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: некорректная форма запроса или не хватает обязательных платёжных полей.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора клиента.
	ErrClientRequired = fmt.Errorf("%w: client_id is required", ErrValidation)
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = fmt.Errorf("%w: order must contain at least one line", ErrValidation)
	// Ошибка при некорректном количестве (<= 0).
	ErrLineQtyInvalid = fmt.Errorf("%w: line qty must be greater than zero", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = fmt.Errorf("%w: line unit price must be non-negative", ErrValidation)
	// Позиция должна ссылаться ровно на один из product_id / service_id.
	ErrLineItemRefInvalid = fmt.Errorf("%w: line must reference exactly one of product_id or service_id", ErrValidation)
	// Неизвестный вид позиции.
	ErrLineKindInvalid = fmt.Errorf("%w: unknown line kind", ErrValidation)
	// Подытог позиции не равен цене, умноженной на количество.
	ErrLineSubtotalMismatch = fmt.Errorf("%w: line subtotal does not match unit price * qty", ErrValidation)
	// Ошибка несоответствия подытога заказа и сумм позиций.
	ErrSubtotalMismatch = fmt.Errorf("%w: order subtotal does not match lines sum", ErrValidation)
	// Ошибка несоответствия total != subtotal + tax.
	ErrTotalMismatch = fmt.Errorf("%w: order total does not match subtotal + tax", ErrValidation)
	// Не задан способ оплаты.
	ErrPaymentOriginRequired = fmt.Errorf("%w: payment origin is required", ErrValidation)
	// Для выбранного способа оплаты не хватает обязательных полей.
	ErrPaymentOriginIncomplete = fmt.Errorf("%w: payment origin is missing required fields", ErrValidation)
	// Способ оплаты несовместим с видами позиций заказа.
	ErrPaymentOriginMismatch = fmt.Errorf("%w: payment origin is not allowed for these line kinds", ErrValidation)
	// Места для билетной позиции заданы некорректно.
	ErrSeatsInvalid = fmt.Errorf("%w: seats must be unique and match line qty", ErrValidation)
	// Тип билета не найден в каталоге.
	ErrTicketTypeNotFound = fmt.Errorf("%w: ticket type not found", ErrValidation)
	// Некорректный статус заказа.
	ErrOrderStatusInvalid = fmt.Errorf("%w: unknown order status", ErrValidation)
	// Запись таймлайна без заказа или типа.
	ErrTimelineEventInvalid = fmt.Errorf("%w: timeline event requires order_id and type", ErrValidation)

	// ErrPricingUnavailable: каталог недоступен, заказ не создаётся.
	ErrPricingUnavailable = errors.New("pricing unavailable")
	// ErrPaymentDeclined: недостаточно средств или банк отклонил списание.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrGateway: ошибка внешнего банковского шлюза или платёжного процессора.
	ErrGateway = errors.New("gateway error")
	// ErrGatewayAuthFailure: повторный 401 после обновления токена.
	ErrGatewayAuthFailure = errors.New("gateway auth failure")
	// ErrCredentialUnavailable: не удалось получить сервисный токен.
	ErrCredentialUnavailable = errors.New("service credential unavailable")
	// ErrSeatsAlreadyTaken: хотя бы одно из мест уже занято.
	ErrSeatsAlreadyTaken = errors.New("seats already taken")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderNotCancellable: завершённый заказ отменить нельзя.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	// ErrSubscriptionNotFound: подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: записи нет или она уже снята с очереди.
	ErrOutboxMessageNotFound = errors.New("outbox message not found or not pending")

	// ErrIdempotencyKeyRequired: не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использовался.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyStateInvalid: итог вызова записывается не финальной стадией.
	ErrIdempotencyStateInvalid = errors.New("idempotency entry can only settle as succeeded or failed")
)

// GatewayError несёт HTTP-статус и тело ответа внешнего шлюза.
// Status == 0 означает сетевую ошибку или таймаут.
type GatewayError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Endpoint, e.Err)
	case e.Body != "":
		return fmt.Sprintf("gateway %s: status %d: %s", e.Endpoint, e.Status, e.Body)
	default:
		return fmt.Sprintf("gateway %s: status %d", e.Endpoint, e.Status)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is позволяет сравнивать любую GatewayError с ErrGateway.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// IsValidation проверяет, относится ли ошибка к ошибкам валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsIdempotencyConflict проверяет конфликт по idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsInfrastructure сообщает, что ошибка вызвана недоступностью внешних систем,
// а не бизнес-отказом.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrPricingUnavailable) ||
		errors.Is(err, ErrGateway) ||
		errors.Is(err, ErrGatewayAuthFailure) ||
		errors.Is(err, ErrCredentialUnavailable)
}

// GatewayStatus возвращает HTTP-статус из цепочки ошибок, если он есть.
func GatewayStatus(err error) (int, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Status, true
	}
	return 0, false
}
