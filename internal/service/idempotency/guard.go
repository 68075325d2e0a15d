package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// DefaultTTL: сколько живёт ключ идемпотентности.
const DefaultTTL = 24 * time.Hour

const failedReplayMessage = "previous request with the same idempotency key failed"

var guardCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_idempotency_calls_total",
	Help: "Guarded gRPC calls by outcome: executed, replayed, in_flight, conflict, error.",
}, []string{"outcome"})

// Guard выполняет мутирующий вызов не более одного раза на ключ
// и воспроизводит сохранённый результат на повторах.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей. Nil-репозиторий отключает защиту.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do выполняет handler под ключом key. Ошибки handler ожидаются в виде gRPC status.
func Do[T any](
	ctx context.Context,
	g *Guard,
	key, method string,
	req any,
	handler func(context.Context) (T, error),
) (T, error) {
	var zero T

	if g == nil || g.repo == nil {
		return handler(ctx)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return zero, status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
	}
	logger := g.logger.WithFields(log.Fields{"idempotency_key": key, "method": method})

	hash, err := RequestHash(method, req)
	if err != nil {
		logger.WithError(err).Warn("failed to hash guarded request")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	held, err := g.repo.Claim(ctx, domain.IdempotencyEntry{
		Key:         key,
		Method:      method,
		RequestHash: hash,
		ExpiresAt:   g.now().Add(g.ttl),
	})
	if err != nil {
		return replay[T](logger, held, err)
	}

	resp, runErr := handler(ctx)
	guardCallsTotal.WithLabelValues("executed").Inc()

	// Итог фиксируется и после отключения клиента.
	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		st := status.Convert(runErr)
		code := st.Code()
		if code == codes.OK {
			code = codes.Internal
		}
		g.settle(settleCtx, logger, key, domain.IdempotencyFailed, []byte(st.Message()), code)
		return resp, runErr
	}

	body, err := json.Marshal(resp)
	if err != nil {
		logger.WithError(err).Warn("guarded response is not serializable; key stays in flight until expiry")
		return resp, nil
	}
	g.settle(settleCtx, logger, key, domain.IdempotencySucceeded, body, codes.OK)
	return resp, nil
}

func (g *Guard) settle(ctx context.Context, logger *log.Entry, key string, state domain.IdempotencyState, result []byte, code codes.Code) {
	if err := g.repo.Settle(ctx, key, state, result, uint32(code)); err != nil {
		logger.WithError(err).WithField("state", state).Warn("failed to settle idempotency key")
	}
}

func replay[T any](logger *log.Entry, held domain.IdempotencyEntry, claimErr error) (T, error) {
	var zero T

	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		guardCallsTotal.WithLabelValues("conflict").Inc()
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case !errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		guardCallsTotal.WithLabelValues("error").Inc()
		logger.WithError(claimErr).Warn("failed to claim idempotency key")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch held.State {
	case domain.IdempotencyInFlight:
		guardCallsTotal.WithLabelValues("in_flight").Inc()
		return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencySucceeded:
		var resp T
		if err := json.Unmarshal(held.Result, &resp); err != nil {
			logger.WithError(err).Warn("failed to decode stored idempotent response")
			return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		guardCallsTotal.WithLabelValues("replayed").Inc()
		return resp, nil
	case domain.IdempotencyFailed:
		guardCallsTotal.WithLabelValues("replayed").Inc()
		return zero, storedFailure(held)
	default:
		return zero, status.Errorf(codes.Internal, "unknown idempotency state %q", held.State)
	}
}

// storedFailure восстанавливает gRPC-ошибку из сохранённой записи.
func storedFailure(entry domain.IdempotencyEntry) error {
	code := codes.Code(entry.Code)
	if code == codes.OK || code > codes.Unauthenticated {
		code = codes.Internal
	}
	msg := string(entry.Result)
	if msg == "" {
		msg = failedReplayMessage
	}
	return status.Error(code, msg)
}

// RequestHash считает sha256 от имени метода и JSON-представления запроса.
func RequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
