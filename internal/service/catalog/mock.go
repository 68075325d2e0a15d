package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// MockService: конфигурируемая заглушка CatalogService для тестов.
type MockService struct {
	mu sync.Mutex

	Prices      map[string]decimal.Decimal
	TicketTypes map[string][]domain.TicketType

	PriceErr    error
	AdjustErr   error
	MarkPaidErr error

	PriceCalls  int
	StockDeltas map[string]int32
	MarkedPaid  map[string]int
}

// NewMockService возвращает mock с пустым каталогом.
func NewMockService() *MockService {
	return &MockService{
		Prices:      make(map[string]decimal.Decimal),
		TicketTypes: make(map[string][]domain.TicketType),
		StockDeltas: make(map[string]int32),
		MarkedPaid:  make(map[string]int),
	}
}

// GetPrice возвращает цену из Prices или PriceErr.
func (m *MockService) GetPrice(ctx context.Context, itemID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceCalls++
	if m.PriceErr != nil {
		return decimal.Zero, m.PriceErr
	}
	price, ok := m.Prices[itemID]
	if !ok {
		return decimal.Zero, &domain.GatewayError{Endpoint: "/items/" + itemID, Status: 404, Body: fmt.Sprintf("item %s not found", itemID)}
	}
	return price, nil
}

// GetTicketTypes возвращает тарифы услуги.
func (m *MockService) GetTicketTypes(ctx context.Context, itemID string) ([]domain.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceCalls++
	if m.PriceErr != nil {
		return nil, m.PriceErr
	}
	return m.TicketTypes[itemID], nil
}

// AdjustStock копит изменения остатков.
func (m *MockService) AdjustStock(ctx context.Context, itemID string, delta int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AdjustErr != nil {
		return m.AdjustErr
	}
	m.StockDeltas[itemID] += delta
	return nil
}

// MarkPaid считает отметки об оплате.
func (m *MockService) MarkPaid(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkPaidErr != nil {
		return m.MarkPaidErr
	}
	m.MarkedPaid[itemID]++
	return nil
}

// StockDelta возвращает накопленное изменение остатка.
func (m *MockService) StockDelta(itemID string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StockDeltas[itemID]
}

// MarkPaidCount возвращает число отметок об оплате услуги.
func (m *MockService) MarkPaidCount(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MarkedPaid[itemID]
}

var _ domain.CatalogService = (*MockService)(nil)
