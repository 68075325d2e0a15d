package saga

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// Fulfilment применяет к каталогам последствия оплаты и отмены заказа.
// Все вызовы best-effort: ошибки логируются, статус заказа не откатывается.
type Fulfilment struct {
	products domain.CatalogService
	services domain.CatalogService
	logger   *log.Entry
}

// NewFulfilment создаёт исполнителя побочных эффектов. Любой каталог может быть nil.
func NewFulfilment(products, services domain.CatalogService, logger *log.Entry) *Fulfilment {
	if logger == nil {
		logger = log.WithField("component", "fulfilment")
	}
	return &Fulfilment{products: products, services: services, logger: logger}
}

// Apply списывает остатки товаров и помечает услуги оплаченными.
func (f *Fulfilment) Apply(ctx context.Context, order domain.Order) {
	if f == nil {
		return
	}
	for _, line := range order.Lines {
		switch {
		case line.ProductID != "":
			f.adjust(ctx, order.ID, line.ProductID, -line.Qty)
		case line.Kind == domain.LineKindService || line.Kind == domain.LineKindTicketed:
			if f.services == nil {
				continue
			}
			if err := f.services.MarkPaid(ctx, line.ServiceID); err != nil {
				f.logger.WithError(err).WithFields(log.Fields{
					"order_id":   order.ID,
					"service_id": line.ServiceID,
				}).Warn("mark service paid failed")
			}
		}
	}
}

// Restock возвращает на склад товары отменённого заказа.
func (f *Fulfilment) Restock(ctx context.Context, order domain.Order) {
	if f == nil {
		return
	}
	for _, line := range order.Lines {
		if line.ProductID != "" {
			f.adjust(ctx, order.ID, line.ProductID, line.Qty)
		}
	}
}

func (f *Fulfilment) adjust(ctx context.Context, orderID, productID string, delta int32) {
	if f.products == nil {
		return
	}
	if err := f.products.AdjustStock(ctx, productID, delta); err != nil {
		f.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"product_id": productID,
			"delta":      delta,
		}).Warn("stock adjustment failed")
	}
}
