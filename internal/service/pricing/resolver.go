// Package pricing рассчитывает цены позиций и итоги заказа.
package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// DefaultTaxRate: ставка налога по умолчанию. Единственный источник значения в коде.
var DefaultTaxRate = decimal.RequireFromString("0.18")

const maxParallelLookups = 8

// Quote: рассчитанные позиции и итоги.
type Quote struct {
	Lines    []domain.OrderLine
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	TaxRate  decimal.Decimal
	// MissingTicketTypes: тарифы, не найденные в каталоге (их цена посчитана как 0).
	MissingTicketTypes []string
}

// Resolver запрашивает цены в каталогах товаров и услуг.
type Resolver struct {
	products domain.CatalogService
	services domain.CatalogService
	taxRate  decimal.Decimal
	logger   *log.Entry
}

// Option модифицирует Resolver.
type Option func(*Resolver)

// WithTaxRate переопределяет ставку налога.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(r *Resolver) {
		if !rate.IsNegative() {
			r.taxRate = rate
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver создаёт Resolver.
func NewResolver(products, services domain.CatalogService, opts ...Option) *Resolver {
	r := &Resolver{
		products: products,
		services: services,
		taxRate:  DefaultTaxRate,
		logger:   log.WithField("component", "pricing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TaxRate возвращает действующую ставку.
func (r *Resolver) TaxRate() decimal.Decimal {
	return r.taxRate
}

type pricedLine struct {
	unitPrice     decimal.Decimal
	ticketMissing bool
}

// Resolve рассчитывает цены позиций. Любая ошибка каталога возвращает ErrPricingUnavailable.
func (r *Resolver) Resolve(ctx context.Context, requests []domain.LineRequest) (Quote, error) {
	if len(requests) == 0 {
		return Quote{}, domain.ErrLinesRequired
	}
	for i, req := range requests {
		if err := req.Validate(); err != nil {
			return Quote{}, fmt.Errorf("line %d: %w", i, err)
		}
	}

	priced := make([]pricedLine, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i := range requests {
		g.Go(func() error {
			line, err := r.priceLine(gctx, requests[i])
			if err != nil {
				return err
			}
			priced[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.WithError(err).Warn("catalog lookup failed")
		return Quote{}, fmt.Errorf("%w: %v", domain.ErrPricingUnavailable, err)
	}

	quote := Quote{
		Lines:    make([]domain.OrderLine, 0, len(requests)),
		Subtotal: decimal.Zero,
		TaxRate:  r.taxRate,
	}
	for i, req := range requests {
		unit := domain.RoundMoney(priced[i].unitPrice)
		line := domain.OrderLine{
			ID:        uuid.NewString(),
			Kind:      req.Kind,
			Qty:       req.Qty,
			UnitPrice: unit,
			Subtotal:  unit.Mul(decimal.NewFromInt32(req.Qty)),
		}
		switch req.Kind {
		case domain.LineKindProduct:
			line.ProductID = req.ItemID
		case domain.LineKindTicketed:
			line.ServiceID = req.ItemID
			line.TicketTypeID = req.TicketTypeID
			line.Seats = append([]domain.Seat(nil), req.Seats...)
		case domain.LineKindDebt:
			line.ServiceID = req.ItemID
			line.DebtRef = req.DebtRef
		default:
			line.ServiceID = req.ItemID
		}
		if priced[i].ticketMissing {
			quote.MissingTicketTypes = append(quote.MissingTicketTypes, req.TicketTypeID)
		}
		quote.Lines = append(quote.Lines, line)
		quote.Subtotal = quote.Subtotal.Add(line.Subtotal)
	}

	quote.Tax = domain.ComputeTax(quote.Subtotal, r.taxRate)
	quote.Total = quote.Subtotal.Add(quote.Tax)
	return quote, nil
}

func (r *Resolver) priceLine(ctx context.Context, req domain.LineRequest) (pricedLine, error) {
	switch req.Kind {
	case domain.LineKindProduct:
		price, err := r.products.GetPrice(ctx, req.ItemID)
		if err != nil {
			return pricedLine{}, fmt.Errorf("product %s: %w", req.ItemID, err)
		}
		return pricedLine{unitPrice: price}, nil
	case domain.LineKindService:
		price, err := r.services.GetPrice(ctx, req.ItemID)
		if err != nil {
			return pricedLine{}, fmt.Errorf("service %s: %w", req.ItemID, err)
		}
		return pricedLine{unitPrice: price}, nil
	case domain.LineKindTicketed:
		types, err := r.services.GetTicketTypes(ctx, req.ItemID)
		if err != nil {
			return pricedLine{}, fmt.Errorf("ticket types of %s: %w", req.ItemID, err)
		}
		for _, tt := range types {
			if tt.ID == req.TicketTypeID {
				return pricedLine{unitPrice: tt.Price}, nil
			}
		}
		return pricedLine{unitPrice: decimal.Zero, ticketMissing: true}, nil
	case domain.LineKindDebt:
		return pricedLine{unitPrice: req.DebtAmount}, nil
	default:
		return pricedLine{}, domain.ErrLineKindInvalid
	}
}
