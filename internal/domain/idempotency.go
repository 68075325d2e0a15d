package domain

import (
	"strings"
	"time"
)

// IdempotencyState: стадия вызова, занявшего ключ.
type IdempotencyState string

const (
	IdempotencyInFlight  IdempotencyState = "in_flight"
	IdempotencySucceeded IdempotencyState = "succeeded"
	IdempotencyFailed    IdempotencyState = "failed"
)

// Valid сообщает, известна ли стадия.
func (s IdempotencyState) Valid() bool {
	return s == IdempotencyInFlight || s.Settled()
}

// Settled: вызов завершён и результат можно воспроизвести.
func (s IdempotencyState) Settled() bool {
	return s == IdempotencySucceeded || s == IdempotencyFailed
}

// IdempotencyEntry: запомненный итог мутирующего gRPC-вызова.
// Result содержит JSON ответа для succeeded и текст ошибки для failed,
// Code хранит gRPC-код завершения.
type IdempotencyEntry struct {
	Key         string
	Method      string
	RequestHash string
	State       IdempotencyState
	Result      []byte
	Code        uint32
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, освободился ли ключ к моменту now.
func (e IdempotencyEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// SameRequest сравнивает метод и хеш запроса.
func (e IdempotencyEntry) SameRequest(other IdempotencyEntry) bool {
	return e.Method == other.Method && e.RequestHash == other.RequestHash
}

// Normalize обрезает пробелы и проверяет обязательные поля перед захватом ключа.
func (e IdempotencyEntry) Normalize(now time.Time, fallbackTTL time.Duration) (IdempotencyEntry, error) {
	e.Key = strings.TrimSpace(e.Key)
	e.Method = strings.TrimSpace(e.Method)
	e.RequestHash = strings.TrimSpace(e.RequestHash)
	switch {
	case e.Key == "":
		return e, ErrIdempotencyKeyRequired
	case e.RequestHash == "":
		return e, ErrIdempotencyRequestHashRequired
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = now.Add(fallbackTTL)
	}
	e.State = IdempotencyInFlight
	e.Result = nil
	e.Code = 0
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}
