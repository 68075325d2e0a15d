package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/payflow/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	scenarioMethod    = "scenario"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateGet    loadMode = "create-get"
	modeCreateCancel loadMode = "create-cancel"
)

type loadConfig struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	origin      string
	productID   string
	qty         int32
	accountID   string
	clientTag   string
	outputPath  string
}

func (c loadConfig) validate() error {
	var errs []error
	switch c.mode {
	case modeCreate, modeCreateGet, modeCreateCancel:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode %q (use create|create-get|create-cancel)", c.mode))
	}
	switch c.origin {
	case string(domain.PaymentStrategyInternal):
		if strings.TrimSpace(c.accountID) == "" {
			errs = append(errs, errors.New("account is required for internal origin"))
		}
	case string(domain.PaymentStrategyRedirect):
	default:
		errs = append(errs, fmt.Errorf("unsupported origin %q (use internal|redirect)", c.origin))
	}
	if c.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if c.duration == 0 && c.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when duration is not set"))
	}
	if c.concurrency <= 0 || c.connections <= 0 {
		errs = append(errs, errors.New("concurrency and connections must be > 0"))
	}
	if c.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if c.qty <= 0 {
		errs = append(errs, errors.New("qty must be > 0"))
	}
	if c.cancelRate < 0 || c.cancelRate > 100 {
		errs = append(errs, errors.New("cancel-rate must be between 0 and 100"))
	}
	if strings.TrimSpace(c.productID) == "" || strings.TrimSpace(c.clientTag) == "" {
		errs = append(errs, errors.New("product and client-tag are required"))
	}
	return errors.Join(errs...)
}

// orderClient: методы OrderService, которые дёргают сценарии.
type orderClient interface {
	CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error)
	GetOrder(ctx context.Context, in *grpcsvc.GetOrderRequest, opts ...grpc.CallOption) (*grpcsvc.GetOrderResponse, error)
	CancelOrder(ctx context.Context, in *grpcsvc.CancelOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CancelOrderResponse, error)
}

type runner struct {
	cfg   loadConfig
	runID string
	col   *collector
}

func (r *runner) call(ctx context.Context, method, key string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	}
	start := time.Now()
	err := fn(ctx)
	r.col.record(method, time.Since(start), err)
	return err
}

func (r *runner) scenario(ctx context.Context, client orderClient, index int) (err error) {
	start := time.Now()
	defer func() { r.col.record(scenarioMethod, time.Since(start), err) }()

	req := &grpcsvc.CreateOrderRequest{
		ClientID: fmt.Sprintf("%s-%s-%d", r.cfg.clientTag, r.runID, index),
		Lines: []grpcsvc.LineRequest{{
			Kind:   string(domain.LineKindProduct),
			ItemID: r.cfg.productID,
			Qty:    r.cfg.qty,
		}},
		Origin: &grpcsvc.PaymentOrigin{Type: r.cfg.origin, AccountID: r.cfg.accountID},
	}

	var orderID string
	err = r.call(ctx, grpcsvc.MethodCreateOrder, fmt.Sprintf("lt-create-%s-%d", r.runID, index), func(ctx context.Context) error {
		resp, err := client.CreateOrder(ctx, req)
		if err != nil {
			return err
		}
		if resp.Order == nil || resp.Order.ID == "" {
			return status.Error(codes.Internal, "create response without order id")
		}
		orderID = resp.Order.ID
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case r.cfg.mode == modeCreateGet:
		return r.call(ctx, grpcsvc.MethodGetOrder, "", func(ctx context.Context) error {
			_, err := client.GetOrder(ctx, &grpcsvc.GetOrderRequest{OrderID: orderID})
			return err
		})
	case r.cfg.mode == modeCreateCancel && shouldCancel(index, r.cfg.cancelRate):
		return r.call(ctx, grpcsvc.MethodCancelOrder, fmt.Sprintf("lt-cancel-%s-%d", r.runID, index), func(ctx context.Context) error {
			_, err := client.CancelOrder(ctx, &grpcsvc.CancelOrderRequest{OrderID: orderID})
			return err
		})
	}
	return nil
}

// run раздаёт номера сценариев воркерам до исчерпания total или duration.
func (r *runner) run(ctx context.Context, clients []orderClient) {
	jobs := make(chan int, r.cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		var deadline <-chan time.Time
		if r.cfg.duration > 0 {
			timer := time.NewTimer(r.cfg.duration)
			defer timer.Stop()
			deadline = timer.C
		}
		for i := 0; r.cfg.total <= 0 || i < r.cfg.total; i++ {
			select {
			case <-gctx.Done():
				return nil
			case <-deadline:
				return nil
			case jobs <- i:
			}
		}
		return nil
	})

	for w := 0; w < r.cfg.concurrency; w++ {
		client := clients[w%len(clients)]
		g.Go(func() error {
			for index := range jobs {
				_ = r.scenario(gctx, client, index)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func shouldCancel(index, rate int) bool {
	return index%100 < rate
}

func newRootCmd(dial func(addr string) (orderClient, io.Closer, error)) *cobra.Command {
	cfg := loadConfig{}
	var mode string

	cmd := &cobra.Command{
		Use:           "loadtest",
		Short:         "Generate CreateOrder load against the payflow gRPC API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.mode = loadMode(strings.TrimSpace(mode))
			cfg.origin = strings.TrimSpace(cfg.origin)
			if err := cfg.validate(); err != nil {
				return err
			}

			clients := make([]orderClient, 0, cfg.connections)
			for i := 0; i < cfg.connections; i++ {
				client, closer, err := dial(cfg.addr)
				if err != nil {
					return fmt.Errorf("dial %s: %w", cfg.addr, err)
				}
				defer closer.Close()
				clients = append(clients, client)
			}

			startedAt := time.Now()
			r := &runner{cfg: cfg, runID: fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()), col: newCollector()}
			r.run(cmd.Context(), clients)
			result, err := r.col.report(startedAt, time.Since(startedAt))
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}

			printReport(cmd.OutOrStdout(), cfg, result)
			if cfg.outputPath != "" {
				if err := writeJSONReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", result.Failed, result.Scenarios)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	flags.IntVar(&cfg.total, "total", 400, "scenarios to run; with --duration acts as an upper bound (0 = unbounded)")
	flags.DurationVar(&cfg.duration, "duration", 0, "time-based run duration")
	flags.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flags.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	flags.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	flags.StringVar(&mode, "mode", string(modeCreate), "scenario: create | create-get | create-cancel")
	flags.IntVar(&cfg.cancelRate, "cancel-rate", 100, "percent of orders cancelled in create-cancel mode")
	flags.StringVar(&cfg.origin, "origin", string(domain.PaymentStrategyInternal), "payment origin: internal | redirect")
	flags.StringVar(&cfg.productID, "product", "p-load", "product id to order")
	flags.Int32Var(&cfg.qty, "qty", 1, "quantity per order")
	flags.StringVar(&cfg.accountID, "account", "acc-load", "account id for internal payments")
	flags.StringVar(&cfg.clientTag, "client-tag", "load", "client id prefix")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	return cmd
}

func dialGRPC(addr string) (orderClient, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return grpcsvc.NewOrderServiceClient(conn), conn, nil
}

func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся флагом CLI.
	file, err := os.Create(clean)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, cfg loadConfig, result report) {
	_, _ = fmt.Fprintf(w, "mode=%s origin=%s scenarios=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.origin, result.Scenarios, result.Failed, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, stats.Calls, stats.Failed, stats.LatencyMs.P50, stats.LatencyMs.P95, stats.LatencyMs.P99)
	}
}

func main() {
	if err := newRootCmd(dialGRPC).Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}
