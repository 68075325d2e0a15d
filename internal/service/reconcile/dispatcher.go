package reconcile

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

var (
	// ErrDispatcherClosed возвращается после начала остановки.
	ErrDispatcherClosed = errors.New("reconcile dispatcher is closed")
	// ErrDispatcherBusy возвращается, когда очередь сверок заполнена.
	ErrDispatcherBusy = errors.New("reconcile dispatcher queue is full")
)

// PaymentReconciler сверяет один платёж.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, paymentID string) (Outcome, error)
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers задаёт число параллельных сверок.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize задаёт ёмкость очереди ожидающих сверок.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Dispatcher сверяет уведомления в фоне фиксированным пулом воркеров:
// HTTP-ответ отдаётся сразу. Ошибки сверки логируются и не возвращаются
// отправителю уведомления.
type Dispatcher struct {
	reconciler PaymentReconciler
	logger     *log.Entry
	workers    int
	queueSize  int

	mu     sync.RWMutex
	closed bool
	queue  chan string
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher создаёт диспетчер и запускает воркеры.
func NewDispatcher(reconciler PaymentReconciler, logger *log.Entry, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "reconcile-dispatcher")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reconciler: reconciler,
		logger:     logger,
		workers:    defaultWorkers,
		queueSize:  defaultQueueSize,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan string, d.queueSize)
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	return d
}

// Enqueue ставит платёж в очередь, не дожидаясь свободного воркера.
func (d *Dispatcher) Enqueue(_ context.Context, paymentID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- paymentID:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for paymentID := range d.queue {
		outcome, err := d.reconciler.Reconcile(d.ctx, paymentID)
		if err != nil {
			d.logger.WithError(err).WithField("payment_id", paymentID).Warn("reconciliation failed")
			continue
		}
		d.logger.WithFields(log.Fields{
			"payment_id": paymentID,
			"outcome":    outcome,
		}).Debug("reconciliation finished")
	}
}

// Shutdown перестаёт принимать уведомления и ждёт, пока воркеры разберут очередь.
// Если ctx истекает раньше, оставшиеся сверки отменяются.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
