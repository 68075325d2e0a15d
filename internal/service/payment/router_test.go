package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/gateway"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	"github.com/vladislavdragonenkov/payflow/internal/service/accounts"
	"github.com/vladislavdragonenkov/payflow/internal/service/processor"
)

type fixture struct {
	accounts  *accounts.MockService
	bank      *gateway.MockBank
	processor *processor.MockService
	router    *Router
}

func newFixture() fixture {
	f := fixture{
		accounts:  accounts.NewMockService(),
		bank:      gateway.NewMockBank(),
		processor: processor.NewMockService(),
	}
	f.router = NewRouter(f.accounts, f.bank, f.processor, WithMetrics(metrics.NewPaymentMetrics(prometheus.NewRegistry())))
	return f
}

func order(lines ...domain.OrderLine) domain.Order {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
	}
	tax := domain.ComputeTax(subtotal, decimal.RequireFromString("0.18"))
	return domain.Order{ID: "order-1", ClientID: "c-1", Lines: lines, Subtotal: subtotal, Tax: tax, Total: subtotal.Add(tax)}
}

func productLine() domain.OrderLine {
	return domain.OrderLine{Kind: domain.LineKindProduct, ProductID: "p-1", Qty: 1, UnitPrice: decimal.NewFromInt(100), Subtotal: decimal.NewFromInt(100)}
}

func debtLine() domain.OrderLine {
	return domain.OrderLine{Kind: domain.LineKindDebt, ServiceID: "debt", DebtRef: "D-1", Qty: 1, UnitPrice: decimal.NewFromInt(50), Subtotal: decimal.NewFromInt(50)}
}

func TestStrategy(t *testing.T) {
	s, err := Strategy(domain.InternalOrigin{AccountID: "a"})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStrategyInternal, s)

	s, err = Strategy(domain.ExternalBankOrigin{})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStrategyExternalBank, s)

	_, err = Strategy(nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckOrigin_RedirectWithDebtRejected(t *testing.T) {
	_, err := CheckOrigin(domain.RedirectOrigin{}, []domain.LineRequest{{Kind: domain.LineKindDebt}})
	require.ErrorIs(t, err, domain.ErrPaymentOriginMismatch)

	_, err = CheckOrigin(domain.ExternalBankOrigin{CustomerTaxID: "1"}, nil)
	require.ErrorIs(t, err, domain.ErrPaymentOriginIncomplete)

	strategy, err := CheckOrigin(domain.RedirectOrigin{}, []domain.LineRequest{{Kind: domain.LineKindProduct}})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStrategyRedirect, strategy)
}

func TestExecute_Internal(t *testing.T) {
	f := newFixture()

	result, err := f.router.Execute(context.Background(), Request{
		Order:     order(productLine()),
		Origin:    domain.InternalOrigin{AccountID: "acc-1"},
		AuthToken: "Bearer user",
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStrategyInternal, result.Strategy)
	require.NotNil(t, result.Receipt)
	require.Equal(t, "Bearer user", f.accounts.LastAuth)
	require.True(t, f.accounts.LastDebit.Amount.Equal(decimal.NewFromInt(118)))
	require.Empty(t, f.bank.Settlements)
}

func TestExecute_InternalDefersDebtSettlement(t *testing.T) {
	f := newFixture()

	result, err := f.router.Execute(context.Background(), Request{
		Order:  order(debtLine()),
		Origin: domain.InternalOrigin{AccountID: "acc-1"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Receipt)
	require.Empty(t, f.bank.Settlements, "bank must not hear about the debt before the order is stored")

	require.NotNil(t, result.Settlement)
	require.Equal(t, "D-1", result.Settlement.DebtRef)
	require.True(t, result.Settlement.Amount.Equal(decimal.NewFromInt(50)))
}

func TestSettleDebt(t *testing.T) {
	f := newFixture()
	f.router.SettleDebt(context.Background(), "order-1", domain.DebtSettlement{DebtRef: "D-1", Amount: decimal.NewFromInt(50)})
	require.True(t, f.bank.Settlements["D-1"].Equal(decimal.NewFromInt(50)))

	f.bank.SettleErr = errors.New("bank unavailable")
	f.router.SettleDebt(context.Background(), "order-2", domain.DebtSettlement{DebtRef: "D-2", Amount: decimal.NewFromInt(5)})
	require.NotContains(t, f.bank.Settlements, "D-2")
}

func TestExecute_InternalInsufficientFunds(t *testing.T) {
	f := newFixture()
	f.accounts.DebitErr = &domain.GatewayError{Endpoint: "/accounts/debit", Status: http.StatusPaymentRequired}

	_, err := f.router.Execute(context.Background(), Request{
		Order:  order(productLine()),
		Origin: domain.InternalOrigin{AccountID: "acc-1"},
	})
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
}

func TestExecute_ExternalBankChoosesEndpoint(t *testing.T) {
	f := newFixture()
	origin := domain.ExternalBankOrigin{CustomerTaxID: "123", SourceAccountNumber: "ACC"}

	_, err := f.router.Execute(context.Background(), Request{Order: order(productLine()), Origin: origin})
	require.NoError(t, err)
	require.Len(t, f.bank.Debits, 1)
	require.Empty(t, f.bank.DebtDebits)

	result, err := f.router.Execute(context.Background(), Request{Order: order(debtLine()), Origin: origin})
	require.NoError(t, err)
	require.Nil(t, result.Settlement, "debit by debt ref settles the debt itself")
	require.Len(t, f.bank.DebtDebits, 1)
	require.Equal(t, "D-1", f.bank.DebtDebits[0].DebtRef)
}

func TestExecute_ExternalBankFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rejected", err: &domain.GatewayError{Status: http.StatusUnprocessableEntity}, want: domain.ErrPaymentDeclined},
		{name: "auth", err: domain.ErrGatewayAuthFailure, want: domain.ErrGatewayAuthFailure},
		{name: "upstream", err: &domain.GatewayError{Status: http.StatusBadGateway}, want: domain.ErrGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.bank.DebitErr = tc.err

			_, err := f.router.Execute(context.Background(), Request{
				Order:  order(productLine()),
				Origin: domain.ExternalBankOrigin{CustomerTaxID: "123", SourceAccountNumber: "ACC"},
			})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateRedirect(t *testing.T) {
	f := newFixture()

	url, err := f.router.CreateRedirect(context.Background(), order(productLine()))
	require.NoError(t, err)
	require.Contains(t, url, "order-1")
	require.Len(t, f.processor.Preferences, 1)

	pref := f.processor.Preferences[0]
	require.Equal(t, "order-1", pref.ExternalReference)
	total := decimal.Zero
	for _, item := range pref.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
	}
	require.True(t, total.Equal(decimal.NewFromInt(118)), "preference total %s", total)
}

func TestCreateRedirect_DebtRejected(t *testing.T) {
	f := newFixture()

	_, err := f.router.CreateRedirect(context.Background(), order(debtLine()))
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Empty(t, f.processor.Preferences)
}

func TestExecute_RedirectOriginRejected(t *testing.T) {
	f := newFixture()

	_, err := f.router.Execute(context.Background(), Request{Order: order(productLine()), Origin: domain.RedirectOrigin{}})
	require.ErrorIs(t, err, domain.ErrValidation)
}
