package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

func TestToStatusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "validation", err: domain.ErrClientRequired, want: codes.InvalidArgument},
		{name: "wrapped validation", err: fmt.Errorf("line 2: %w", domain.ErrSeatsInvalid), want: codes.InvalidArgument},
		{name: "pricing unavailable", err: fmt.Errorf("%w: catalog down", domain.ErrPricingUnavailable), want: codes.Unavailable},
		{name: "declined", err: domain.ErrPaymentDeclined, want: codes.FailedPrecondition},
		{name: "gateway auth", err: domain.ErrGatewayAuthFailure, want: codes.Unavailable},
		{name: "gateway error", err: &domain.GatewayError{Endpoint: "/debit", Status: 500}, want: codes.Unavailable},
		{name: "seats taken", err: domain.ErrSeatsAlreadyTaken, want: codes.AlreadyExists},
		{name: "credential", err: domain.ErrCredentialUnavailable, want: codes.Unavailable},
		{name: "not found", err: domain.ErrOrderNotFound, want: codes.NotFound},
		{name: "not cancellable", err: domain.ErrOrderNotCancellable, want: codes.FailedPrecondition},
		{name: "circuit open", err: saga.ErrCircuitOpen, want: codes.Unavailable},
		{name: "deadline", err: fmt.Errorf("create order: %w", context.DeadlineExceeded), want: codes.DeadlineExceeded},
		{name: "status passthrough", err: status.Error(codes.Aborted, "busy"), want: codes.Aborted},
		{name: "unknown", err: errors.New("boom"), want: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, status.Code(toStatusError(tt.err)))
		})
	}

	require.NoError(t, toStatusError(nil))
}

func TestToStatusError_HidesInternalDetails(t *testing.T) {
	err := toStatusError(errors.New("pq: password authentication failed"))
	require.Equal(t, "internal error", status.Convert(err).Message())
}

func TestJSONCodec(t *testing.T) {
	codec := jsonCodec{}
	require.Equal(t, CodecName, codec.Name())

	data, err := codec.Marshal(&GetOrderRequest{OrderID: "order-1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"orderId":"order-1"}`, string(data))

	var decoded GetOrderRequest
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, "order-1", decoded.OrderID)

	var empty RenewSubscriptionsRequest
	require.NoError(t, codec.Unmarshal(nil, &empty))

	require.Error(t, codec.Unmarshal([]byte("{"), &decoded))
}

func TestToDomainOrigin(t *testing.T) {
	origin, err := toDomainOrigin(&PaymentOrigin{Type: "external_bank", CustomerTaxID: "20-1", SourceAccountNumber: "ACC-1", ExternalDebtRef: "DEBT-1"})
	require.NoError(t, err)
	require.Equal(t, domain.ExternalBankOrigin{CustomerTaxID: "20-1", SourceAccountNumber: "ACC-1", ExternalDebtRef: "DEBT-1"}, origin)

	origin, err = toDomainOrigin(&PaymentOrigin{Type: "redirect"})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStrategyRedirect, origin.Strategy())

	_, err = toDomainOrigin(nil)
	require.ErrorIs(t, err, domain.ErrPaymentOriginRequired)

	_, err = toDomainOrigin(&PaymentOrigin{Type: "wallet"})
	require.True(t, domain.IsValidation(err))
}

func TestReadMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "  key-1 "))
	require.Equal(t, "key-1", readIdempotencyKey(ctx))
	require.Empty(t, readMetadata(ctx, authorizationHeader))
	require.Empty(t, readIdempotencyKey(context.Background()))
}
