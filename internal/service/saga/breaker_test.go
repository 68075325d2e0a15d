package saga

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

type stubOrchestrator struct {
	Orchestrator
	createErr   error
	createCalls int
	sawDeadline bool
}

func (s *stubOrchestrator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateResult, error) {
	s.createCalls++
	_, s.sawDeadline = ctx.Deadline()
	if s.createErr != nil {
		return CreateResult{}, s.createErr
	}
	return CreateResult{Order: domain.Order{ID: "order-1", ClientID: cmd.ClientID}}, nil
}

func (s *stubOrchestrator) GetOrder(_ context.Context, id string) (domain.Order, error) {
	return domain.Order{ID: id}, nil
}

const testReset = 40 * time.Millisecond

func newTestBreaker(maxFailures int) *CircuitBreaker {
	return NewCircuitBreaker(maxFailures, testReset, log.New().WithField("test", "breaker"))
}

func waitHalfOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	require.Eventually(t, func() bool { return cb.State() == CircuitHalfOpen }, time.Second, 5*time.Millisecond)
}

var (
	succeed = func() error { return nil }
	outage  = func() error { return &domain.GatewayError{Endpoint: "/debit", Status: 503} }
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	cb := newTestBreaker(2)

	require.ErrorIs(t, cb.Execute("op", outage), domain.ErrGateway)
	require.Equal(t, CircuitClosed, cb.State(), "one failure is below the threshold")
	_ = cb.Execute("op", outage)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	require.ErrorIs(t, cb.Execute("op", func() error { called = true; return nil }), ErrCircuitOpen)
	require.False(t, called)

	waitHalfOpen(t, cb)
	require.NoError(t, cb.Execute("op", succeed))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	cb := newTestBreaker(2)
	_ = cb.Execute("op", outage)
	_ = cb.Execute("op", succeed)
	_ = cb.Execute("op", outage)
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerIgnoresBusinessFailures(t *testing.T) {
	cb := newTestBreaker(1)
	for _, want := range []error{domain.ErrPaymentDeclined, domain.ErrSeatsAlreadyTaken, domain.ErrClientRequired} {
		err := cb.Execute("op", func() error { return want })
		require.ErrorIs(t, err, want, "business errors pass through unchanged")
	}
	require.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute("op", func() error { return context.DeadlineExceeded })
	require.Equal(t, CircuitOpen, cb.State(), "deadline counts as a failure")
}

func TestCircuitBreakerFailedHalfOpenCallReopens(t *testing.T) {
	cb := newTestBreaker(1)
	_ = cb.Execute("op", func() error { return domain.ErrPricingUnavailable })
	waitHalfOpen(t, cb)

	_ = cb.Execute("op", func() error { return domain.ErrCredentialUnavailable })
	require.Equal(t, CircuitOpen, cb.State())
	require.ErrorIs(t, cb.Execute("op", succeed), ErrCircuitOpen, "reset timeout restarts from the failed call")
}

func TestCircuitBreakerSingleHalfOpenCall(t *testing.T) {
	cb := newTestBreaker(1)
	_ = cb.Execute("op", outage)
	waitHalfOpen(t, cb)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute("trial", func() error {
			close(inFlight)
			<-release
			return nil
		})
	}()
	<-inFlight

	require.Equal(t, CircuitHalfOpen, cb.State())
	require.ErrorIs(t, cb.Execute("op", succeed), ErrCircuitOpen, "second caller waits for the trial call")

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, CircuitClosed, cb.State())
	require.NoError(t, cb.Execute("op", succeed))
}

func TestBreakerOrchestrator(t *testing.T) {
	stub := &stubOrchestrator{createErr: domain.ErrPricingUnavailable}
	orch := NewBreakerOrchestrator(stub, NewCircuitBreaker(1, time.Minute, nil), 0, nil)
	require.Equal(t, DefaultCreateTimeout, orch.timeout)

	_, err := orch.CreateOrder(context.Background(), CreateOrderCommand{ClientID: "c-1"})
	require.ErrorIs(t, err, domain.ErrPricingUnavailable)
	require.True(t, stub.sawDeadline, "inner orchestrator gets a deadline")

	_, err = orch.CreateOrder(context.Background(), CreateOrderCommand{ClientID: "c-1"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 1, stub.createCalls)

	got, err := orch.GetOrder(context.Background(), "order-9")
	require.NoError(t, err, "reads bypass the breaker")
	require.Equal(t, "order-9", got.ID)
}

type waitingOrchestrator struct {
	stubOrchestrator
	waited bool
}

func (w *waitingOrchestrator) Wait() { w.waited = true }

func TestBreakerOrchestratorWaitForwardsToInner(t *testing.T) {
	inner := &waitingOrchestrator{}
	NewBreakerOrchestrator(inner, newTestBreaker(1), 0, nil).Wait()
	require.True(t, inner.waited)

	NewBreakerOrchestrator(&stubOrchestrator{}, newTestBreaker(1), 0, nil).Wait()
}

func TestCircuitStateString(t *testing.T) {
	require.Equal(t, "closed", CircuitClosed.String())
	require.Equal(t, "open", CircuitOpen.String())
	require.Equal(t, "half-open", CircuitHalfOpen.String())
}
