package accounts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// MockService: конфигурируемая заглушка AccountsService для тестов.
type MockService struct {
	mu sync.Mutex

	DebitErr error

	DebitCalls int
	LastAuth   string
	LastDebit  domain.InternalDebitRequest
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{}
}

// Debit возвращает заранее настроенный результат и считает вызовы.
func (m *MockService) Debit(ctx context.Context, req domain.InternalDebitRequest, authToken string) (domain.PaymentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebitCalls++
	m.LastAuth = authToken
	m.LastDebit = req
	if m.DebitErr != nil {
		return domain.PaymentReceipt{}, m.DebitErr
	}
	return domain.PaymentReceipt{
		Amount:            req.Amount,
		AuthorizationCode: fmt.Sprintf("INT-%d", m.DebitCalls),
		Timestamp:         time.Now().UTC(),
		Description:       "internal debit",
		Origin:            domain.PaymentStrategyInternal,
	}, nil
}

// Calls возвращает число списаний.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DebitCalls
}

var _ domain.AccountsService = (*MockService)(nil)
