package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
)

const brokersEnv = "PAYFLOW_KAFKA_BROKERS"

type options struct {
	brokers  []string
	source   string
	fallback string
	onlyFrom string
	limit    int
	execute  bool
	tail     bool
	idle     time.Duration
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

func (o options) validate() error {
	var errs []error
	if len(o.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (--brokers or %s)", brokersEnv))
	}
	if o.source == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if o.fallback == "" {
		errs = append(errs, errors.New("target-topic is required"))
	}
	if o.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if o.idle <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return errors.Join(errs...)
}

// dialFunc открывает соединения с Kafka; в тестах подменяется заглушкой.
type dialFunc func(opts options) (*replayer, error)

func newRootCmd(dial dialFunc) *cobra.Command {
	var (
		opts    options
		brokers string
	)
	cmd := &cobra.Command{
		Use:           "dlq-reprocess",
		Short:         "Replay payflow dead-letter records to their topics (dry-run by default)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(brokers) == "" {
				brokers = os.Getenv(brokersEnv)
			}
			opts.brokers = splitList(brokers)
			opts.source = strings.TrimSpace(opts.source)
			opts.fallback = strings.TrimSpace(opts.fallback)
			opts.onlyFrom = strings.TrimSpace(opts.onlyFrom)
			if err := opts.validate(); err != nil {
				return err
			}

			r, err := dial(opts)
			if err != nil {
				return err
			}
			defer r.close()

			_, err = r.run(cmd.Context())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: "+brokersEnv+")")
	f.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "dead-letter topic to scan")
	f.StringVar(&opts.fallback, "target-topic", kafka.TopicOrderEvents, "topic for outbox records, which carry no origin header")
	f.StringVar(&opts.onlyFrom, "only-from", "", "replay only records that failed on this topic")
	f.IntVar(&opts.limit, "limit", 100, "max number of records to scan")
	f.BoolVar(&opts.execute, "execute", false, "publish records; without it nothing is sent")
	f.BoolVar(&opts.tail, "from-newest", false, "scan the last records of each partition (bounded by limit)")
	f.DurationVar(&opts.idle, "idle-timeout", 2*time.Second, "stop reading a partition after this much silence")
	return cmd
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
