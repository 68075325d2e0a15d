package processor

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// MockService: заглушка PaymentProcessor для тестов.
type MockService struct {
	mu sync.Mutex

	PreferenceErr error
	RedirectURL   string
	Payments      map[string]domain.ProcessorPayment
	GetErr        error

	Preferences []domain.Preference
	GetCalls    int
}

// NewMockService возвращает mock с фиксированным redirect URL.
func NewMockService() *MockService {
	return &MockService{
		RedirectURL: "https://processor.test/checkout",
		Payments:    make(map[string]domain.ProcessorPayment),
	}
}

// CreatePreference запоминает запрос и возвращает redirect URL.
func (m *MockService) CreatePreference(ctx context.Context, pref domain.Preference) (domain.PreferenceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PreferenceErr != nil {
		return domain.PreferenceResult{}, m.PreferenceErr
	}
	m.Preferences = append(m.Preferences, pref)
	return domain.PreferenceResult{
		ID:          "pref-" + pref.ExternalReference,
		RedirectURL: m.RedirectURL + "?pref=" + pref.ExternalReference,
	}, nil
}

// SetPayment регистрирует платёж для GetPayment.
func (m *MockService) SetPayment(p domain.ProcessorPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments[p.ID] = p
}

// GetPayment возвращает зарегистрированный платёж.
func (m *MockService) GetPayment(ctx context.Context, paymentID string) (domain.ProcessorPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return domain.ProcessorPayment{}, m.GetErr
	}
	p, ok := m.Payments[paymentID]
	if !ok {
		return domain.ProcessorPayment{}, &domain.GatewayError{Endpoint: "/payments/" + paymentID, Status: 404}
	}
	return p, nil
}

var _ domain.PaymentProcessor = (*MockService)(nil)
