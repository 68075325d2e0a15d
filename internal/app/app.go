// Package app собирает сервис payflow из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/health"
	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/payflow/internal/service/grpc"
	"github.com/vladislavdragonenkov/payflow/internal/service/httpapi"
	"github.com/vladislavdragonenkov/payflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/payflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/payflow/internal/service/reconcile"
	"github.com/vladislavdragonenkov/payflow/internal/service/renewal"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
	"github.com/vladislavdragonenkov/payflow/internal/version"
)

const healthSyncInterval = 10 * time.Second

// App собирает сервис: хранилища, клиенты, воркеры и серверы.
type App struct {
	cfg    Config
	logger *log.Entry

	deps         *runtimeDependencies
	integrations *integrations
	producer     *kafka.Producer

	orchestrator saga.Orchestrator
	reconciler   *reconcile.Reconciler
	dispatcher   *reconcile.Dispatcher
	callbacks    httpapi.CallbackSink

	outboxWorker  *outbox.Worker
	keySweeper    *idempotency.Sweeper
	renewalWorker *renewal.Worker

	health      *health.Handler
	grpcServer  *grpc.Server
	grpcHealth  *grpchealth.Server
	httpHandler http.Handler
}

// Run собирает сервис, слушает адреса из cfg и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	application, err := New(ctx, cfg)
	if err != nil {
		return err
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		application.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		application.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	return application.Serve(ctx, grpcLis, httpLis)
}

// New собирает сервис без запуска серверов и воркеров.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	taxRate, err := cfg.TaxRateDecimal()
	if err != nil {
		return nil, err
	}

	logger := log.WithField("component", "app")
	registerer := prometheus.DefaultRegisterer

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		integrations: initIntegrations(cfg, registerer, logger),
	}

	// Ошибка Kafka не фатальна: заказы оформляются, события копятся в outbox.
	a.producer, _ = initKafkaProducer(cfg.KafkaBrokerList(), logger)

	if err := registerer.Register(version.Collector()); err != nil && !errors.As(err, new(prometheus.AlreadyRegisteredError)) {
		logger.WithError(err).Warn("failed to register build info")
	}
	orderMetrics := metrics.NewOrderMetricsWithRegisterer(registerer)
	a.orchestrator = createOrchestrator(cfg, taxRate, deps, a.integrations,
		orderMetrics, metrics.NewPaymentMetrics(registerer), logger)

	a.reconciler = reconcile.NewReconciler(reconcile.Dependencies{
		Processor: a.integrations.processor,
		Orders:    deps.orders,
		Outbox:    deps.outboxRepo,
		Timeline:  deps.timelineRepo,
		Products:  a.integrations.products,
		Services:  a.integrations.services,
	},
		reconcile.WithLogger(logger.WithField("component", "reconciler")),
		reconcile.WithMetrics(orderMetrics),
	)
	if a.producer != nil && cfg.KafkaCallbackConsumer {
		a.callbacks = kafka.NewCallbackPublisher(a.producer, cfg.KafkaCallbackTopic)
	} else {
		a.dispatcher = reconcile.NewDispatcher(a.reconciler, logger.WithField("component", "reconcile-dispatcher"),
			reconcile.WithWorkers(cfg.ReconcileWorkers),
			reconcile.WithQueueSize(cfg.ReconcileQueueSize),
		)
		a.callbacks = a.dispatcher
	}

	a.outboxWorker = a.newOutboxWorker()
	a.keySweeper = idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.WithSweepLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithSweepBatch(cfg.IdempotencyCleanupBatchSize),
	)
	a.renewalWorker = renewal.NewWorker(renewal.Dependencies{
		Subscriptions: deps.subscriptions,
		Orders:        deps.orders,
		Bank:          a.integrations.bank,
		Outbox:        deps.outboxRepo,
		Timeline:      deps.timelineRepo,
		Services:      a.integrations.services,
	},
		renewal.WithLogger(logger.WithField("component", "renewal-worker")),
		renewal.WithInterval(cfg.RenewalInterval),
		renewal.WithBatchSize(cfg.RenewalBatchSize),
		renewal.WithTaxRate(taxRate),
	)

	a.health = a.newHealthHandler()
	a.grpcServer, a.grpcHealth = a.newGRPCServer(registerer)
	a.httpHandler = httpapi.NewRouter(httpapi.Options{
		Callbacks: a.callbacks,
		Health:    a.health,
		Logger:    logger.WithField("component", "http"),
	})

	return a, nil
}

// newOutboxWorker возвращает nil, если Kafka настроена, но недоступна:
// события остаются в outbox до перезапуска с рабочим брокером.
func (a *App) newOutboxWorker() *outbox.Worker {
	var publisher, dlq domain.OutboxPublisher
	switch {
	case a.producer == nil && len(a.cfg.KafkaBrokerList()) > 0:
		a.logger.Warn("kafka unavailable, outbox publishing paused")
		return nil
	case a.producer != nil:
		publisher = kafka.NewOutboxPublisher(a.producer, a.cfg.KafkaOrderTopic)
		dlq = kafka.NewOutboxPublisher(a.producer, a.cfg.KafkaDLQTopic)
	default:
		publisher = logPublisher{logger: a.logger.WithField("component", "outbox-log")}
	}
	return outbox.NewWorker(a.deps.outboxRepo, publisher,
		outbox.WithLogger(a.logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlq),
		outbox.WithPollInterval(a.cfg.OutboxPollInterval),
		outbox.WithBatchSize(a.cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(a.cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(a.cfg.OutboxRetryDelay),
		outbox.WithMaxRetryDelay(a.cfg.OutboxMaxRetryDelay),
	)
}

func (a *App) newHealthHandler() *health.Handler {
	h := health.NewHandler(version.GetVersion())
	h.RegisterChecker("storage", health.CheckFunc(a.deps.ping))

	if len(a.cfg.KafkaBrokerList()) > 0 {
		h.RegisterOptional("kafka", health.CheckFunc(func(context.Context) error {
			if a.producer == nil {
				return errors.New("kafka producer unavailable")
			}
			return nil
		}))
	}
	if creds := a.integrations.credentials; creds != nil {
		h.RegisterOptional("bank-credentials", health.CheckFunc(func(ctx context.Context) error {
			_, err := creds.Get(ctx)
			return err
		}))
	}
	return h
}

func (a *App) newGRPCServer(registerer prometheus.Registerer) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			a.logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	guard := idempotency.NewGuard(a.deps.idempotencyRepo,
		idempotency.WithTTL(a.cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(a.logger.WithField("component", "idempotency")),
	)
	orderService := grpcsvc.NewOrderService(grpcsvc.Dependencies{
		Orders:      a.orchestrator,
		Renewals:    a.renewalWorker,
		Accounts:    a.integrations.bank,
		Idempotency: guard,
	}, a.logger.WithField("component", "grpc"))
	grpcsvc.RegisterOrderServiceServer(server, orderService)
	grpcMetrics.InitializeMetrics(server)

	reflection.Register(server)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

// Serve запускает воркеры и серверы на переданных listener'ах и блокируется до отмены ctx
// или падения gRPC-сервера. Перед возвратом освобождает все ресурсы.
func (a *App) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	defer a.Close()

	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var workers sync.WaitGroup
	a.startWorkers(workersCtx, &workers)

	var consumer *kafka.Consumer
	if a.producer != nil && a.cfg.KafkaCallbackConsumer {
		var err error
		consumer, err = startCallbackConsumer(workersCtx, a.cfg, a.reconciler, a.producer, a.logger.WithField("component", "callback-consumer"))
		if err != nil {
			a.logger.WithError(err).Warn("processor callbacks consumer not started")
		}
	}

	httpSrv := startHTTPServer(httpLis, a.httpHandler, a.logger)

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", grpcLis.Addr().String()).Info("gRPC server listening")
		errCh <- a.grpcServer.Serve(grpcLis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		a.stopGRPC()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = err
		}
	}

	shutdownHTTP(httpSrv, a.cfg.ShutdownTimeout, a.logger)

	// Уведомления банка о погашении долга ограничены собственным таймаутом.
	if w, ok := a.orchestrator.(interface{ Wait() }); ok {
		w.Wait()
	}

	if a.dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		if err := a.dispatcher.Shutdown(drainCtx); err != nil {
			a.logger.WithError(err).Warn("reconcile dispatcher did not drain in time")
		}
		cancel()
	}

	stopWorkers()
	workers.Wait()
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			a.logger.WithError(err).Warn("failed to stop callbacks consumer")
		}
	}

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

func (a *App) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.WithField("worker", name).Info("worker started")
			fn(ctx)
			a.logger.WithField("worker", name).Info("worker stopped")
		}()
	}

	if a.outboxWorker != nil {
		run("outbox", a.outboxWorker.Run)
	}
	run("idempotency-sweeper", a.keySweeper.Run)
	run("grpc-health", a.watchHealth)
	if a.cfg.RenewalEnabled {
		run("renewal", a.renewalWorker.Run)
	}
}

// watchHealth переносит готовность сервиса в gRPC health до отмены ctx.
func (a *App) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthSyncInterval)
	defer ticker.Stop()
	for {
		a.syncGRPCHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) syncGRPCHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if !a.health.Run(ctx).Ready() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.grpcHealth.SetServingStatus("", status)
	a.grpcHealth.SetServingStatus(grpcsvc.ServiceName, status)
}

func (a *App) stopGRPC() {
	a.grpcHealth.Shutdown()

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop timed out, forcing gRPC shutdown")
		a.grpcServer.Stop()
	}
}

// Close освобождает Kafka и хранилище. Повторный вызов безопасен.
func (a *App) Close() {
	closeKafka(a.producer, a.logger)
	a.producer = nil
	a.deps.close(a.logger)
	a.deps.store = nil
}

// HTTPHandler возвращает HTTP-роутер сервиса.
func (a *App) HTTPHandler() http.Handler { return a.httpHandler }

// GRPCServer возвращает gRPC-сервер с зарегистрированными сервисами.
func (a *App) GRPCServer() *grpc.Server { return a.grpcServer }
