package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// MockBank: конфигурируемая заглушка BankGateway для тестов.
type MockBank struct {
	mu sync.Mutex

	DebitErr  error
	SettleErr error
	Accounts  map[string][]domain.BankAccount

	Debits      []domain.BankDebitRequest
	DebtDebits  []domain.BankDebitRequest
	Settlements map[string]decimal.Decimal
}

// NewMockBank возвращает mock с успешным сценарием по умолчанию.
func NewMockBank() *MockBank {
	return &MockBank{
		Accounts:    make(map[string][]domain.BankAccount),
		Settlements: make(map[string]decimal.Decimal),
	}
}

func (m *MockBank) Debit(ctx context.Context, req domain.BankDebitRequest) (domain.PaymentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DebitErr != nil {
		return domain.PaymentReceipt{}, m.DebitErr
	}
	m.Debits = append(m.Debits, req)
	return m.receipt(req, len(m.Debits)), nil
}

func (m *MockBank) DebitByDebtRef(ctx context.Context, req domain.BankDebitRequest) (domain.PaymentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DebitErr != nil {
		return domain.PaymentReceipt{}, m.DebitErr
	}
	m.DebtDebits = append(m.DebtDebits, req)
	return m.receipt(req, len(m.DebtDebits)), nil
}

func (m *MockBank) receipt(req domain.BankDebitRequest, n int) domain.PaymentReceipt {
	return domain.PaymentReceipt{
		Amount:            req.Amount,
		AuthorizationCode: fmt.Sprintf("BANK-%d", n),
		Timestamp:         time.Now().UTC(),
		Description:       req.Description,
		Origin:            domain.PaymentStrategyExternalBank,
	}
}

func (m *MockBank) SettleDebt(ctx context.Context, debtRef string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SettleErr != nil {
		return m.SettleErr
	}
	m.Settlements[debtRef] = amount
	return nil
}

func (m *MockBank) ListAccounts(ctx context.Context, customerTaxID string) ([]domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Accounts[customerTaxID], nil
}

// DebitCount возвращает общее число списаний.
func (m *MockBank) DebitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Debits) + len(m.DebtDebits)
}

var _ domain.BankGateway = (*MockBank)(nil)
