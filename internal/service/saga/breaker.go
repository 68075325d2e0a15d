package saga

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// DefaultCreateTimeout: внешняя граница на оформление одного заказа.
const DefaultCreateTimeout = 15 * time.Second

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func circuitState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "payflow_circuit_breaker_state",
	Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
}, []string{"breaker"})

// CircuitBreaker считает подряд идущие инфраструктурные отказы. После
// maxFailures он открывается на resetTimeout, затем пропускает ровно одну
// пробу: её успех закрывает breaker, отказ открывает снова.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *log.Entry
}

// NewCircuitBreaker создаёт breaker. Отказами считаются только инфраструктурные ошибки
// и истёкший дедлайн; maxFailures <= 0 означает 5.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	threshold := uint32(maxFailures)
	settings := gobreaker.Settings{
		Name:        "create_order",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isInfrastructureFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := circuitState(to)
			breakerState.WithLabelValues(name).Set(float64(state))
			entry := logger.WithFields(log.Fields{"breaker": name, "from": circuitState(from).String(), "state": state.String()})
			if state == CircuitOpen {
				entry.Warn("circuit breaker opened")
				return
			}
			entry.Info("circuit breaker state changed")
		},
	}
	breakerState.WithLabelValues(settings.Name).Set(float64(CircuitClosed))
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

func isInfrastructureFailure(err error) bool {
	return domain.IsInfrastructure(err) || errors.Is(err, context.DeadlineExceeded)
}

func (cb *CircuitBreaker) State() CircuitState {
	return circuitState(cb.cb.State())
}

// Execute вызывает fn, если breaker пропускает вызов. Бизнес-ошибки fn
// возвращаются как есть и не приближают открытие.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.logger.WithField("operation", operation).Debug("call rejected by circuit breaker")
		return ErrCircuitOpen
	}
	return err
}

// BreakerOrchestrator ограничивает CreateOrder таймаутом и circuit breaker.
// Остальные операции делегируются без изменений.
type BreakerOrchestrator struct {
	Orchestrator
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *log.Entry
}

// NewBreakerOrchestrator оборачивает оркестратор. timeout <= 0 означает DefaultCreateTimeout.
func NewBreakerOrchestrator(inner Orchestrator, breaker *CircuitBreaker, timeout time.Duration, logger *log.Entry) *BreakerOrchestrator {
	if logger == nil {
		logger = log.WithField("component", "breaker-orchestrator")
	}
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	return &BreakerOrchestrator{
		Orchestrator: inner,
		breaker:      breaker,
		timeout:      timeout,
		logger:       logger,
	}
}

// CreateOrder оформляет заказ через breaker.
func (b *BreakerOrchestrator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var result CreateResult
	err := b.breaker.Execute("CreateOrder", func() error {
		var err error
		result, err = b.Orchestrator.CreateOrder(ctx, cmd)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		b.logger.WithField("client_id", cmd.ClientID).Warn("create order blocked by circuit breaker")
	}
	return result, err
}

// Wait дожидается фоновой работы вложенного оркестратора.
func (b *BreakerOrchestrator) Wait() {
	if w, ok := b.Orchestrator.(interface{ Wait() }); ok {
		w.Wait()
	}
}

var _ Orchestrator = (*BreakerOrchestrator)(nil)
