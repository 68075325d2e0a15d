package domain

import (
	"context"
	"time"
)

// OutboxState: состояние записи transactional outbox.
type OutboxState string

const (
	OutboxPending   OutboxState = "pending"
	OutboxDelivered OutboxState = "delivered"
	// OutboxDead: попытки исчерпаны, событие ушло в DLQ.
	OutboxDead OutboxState = "dead"
)

// OutboxMessage: событие, ожидающее публикации в брокер.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time

	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// OutboxStats: размер и возраст backlog.
type OutboxStats struct {
	Pending         int
	Dead            int
	OldestPendingAt time.Time
}

// OutboxPublisher отправляет событие наружу; повторная отправка допустима.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository хранит события до публикации и учитывает попытки.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// Due возвращает до limit записей, готовых к отправке в момент now. Запись
	// агрегата не выдаётся, пока жива более ранняя запись того же агрегата.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string) error
	// Retry увеличивает счётчик попыток и откладывает запись до next.
	Retry(ctx context.Context, id string, next time.Time, lastErr string) error
	// Bury увеличивает счётчик попыток и выводит запись из очереди.
	Bury(ctx context.Context, id string, lastErr string) error
	Stats(ctx context.Context) (OutboxStats, error)
}
