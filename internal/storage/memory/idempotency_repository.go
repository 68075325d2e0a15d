package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository держит ключи идемпотентности в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	entries map[string]domain.IdempotencyEntry
	now     func() time.Time
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		entries: make(map[string]domain.IdempotencyEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Claim занимает ключ; просроченная запись перезаписывается.
func (r *IdempotencyRepository) Claim(_ context.Context, entry domain.IdempotencyEntry) (domain.IdempotencyEntry, error) {
	now := r.now()
	entry, err := entry.Normalize(now, defaultIdempotencyTTL)
	if err != nil {
		return domain.IdempotencyEntry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.entries[entry.Key]; ok && !held.Expired(now) {
		if !held.SameRequest(entry) {
			return copyEntry(held), domain.ErrIdempotencyHashMismatch
		}
		return copyEntry(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	r.entries[entry.Key] = entry
	return copyEntry(entry), nil
}

// Lookup возвращает запись по ключу.
func (r *IdempotencyRepository) Lookup(_ context.Context, key string) (domain.IdempotencyEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyEntry{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return domain.IdempotencyEntry{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyEntry(entry), nil
}

// Settle записывает итог вызова.
func (r *IdempotencyRepository) Settle(_ context.Context, key string, state domain.IdempotencyState, result []byte, code uint32) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !state.Settled() {
		return domain.ErrIdempotencyStateInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	entry.State = state
	entry.Result = append([]byte(nil), result...)
	entry.Code = code
	entry.UpdatedAt = r.now()
	r.entries[key] = entry
	return nil
}

// PurgeExpired удаляет не более limit записей, истёкших к before. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) PurgeExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for key, entry := range r.entries {
		if limit > 0 && purged == limit {
			break
		}
		if entry.Expired(before) {
			delete(r.entries, key)
			purged++
		}
	}
	return purged, nil
}

func copyEntry(entry domain.IdempotencyEntry) domain.IdempotencyEntry {
	entry.Result = append([]byte(nil), entry.Result...)
	return entry
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
