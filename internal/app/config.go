package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/payflow/internal/service/pricing"
)

// EnvPrefix: префикс переменных окружения конфигурации.
const EnvPrefix = "PAYFLOW"

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config: настройки запуска сервиса.
type Config struct {
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	StorageDriver       string        `mapstructure:"storage_driver"`
	PostgresDSN         string        `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool          `mapstructure:"postgres_auto_migrate"`
	PostgresMaxConns    int           `mapstructure:"postgres_max_conns"`
	PostgresConnMaxLife time.Duration `mapstructure:"postgres_conn_max_life"`

	// KafkaBrokers: список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers          string `mapstructure:"kafka_brokers"`
	KafkaOrderTopic       string `mapstructure:"kafka_order_topic"`
	KafkaCallbackTopic    string `mapstructure:"kafka_callback_topic"`
	KafkaDLQTopic         string `mapstructure:"kafka_dlq_topic"`
	KafkaConsumerGroup    string `mapstructure:"kafka_consumer_group"`
	KafkaCallbackConsumer bool   `mapstructure:"kafka_callback_consumer"`
	KafkaMaxRetries       int    `mapstructure:"kafka_max_retries"`

	OutboxPollInterval  time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts   int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay    time.Duration `mapstructure:"outbox_retry_delay"`
	OutboxMaxRetryDelay time.Duration `mapstructure:"outbox_max_retry_delay"`

	IdempotencyTTL              time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `mapstructure:"idempotency_cleanup_batch_size"`

	// AllowMockIntegrations подставляет встроенные заглушки вместо соседей без URL.
	AllowMockIntegrations bool `mapstructure:"allow_mock_integrations"`

	GatewayURL             string        `mapstructure:"gateway_url"`
	GatewayAPIKey          string        `mapstructure:"gateway_api_key"`
	GatewayTimeout         time.Duration `mapstructure:"gateway_timeout"`
	CredentialFetchTimeout time.Duration `mapstructure:"credential_fetch_timeout"`

	ProductsURL          string        `mapstructure:"products_url"`
	ServicesURL          string        `mapstructure:"services_url"`
	AccountsURL          string        `mapstructure:"accounts_url"`
	ProcessorURL         string        `mapstructure:"processor_url"`
	ProcessorAccessToken string        `mapstructure:"processor_access_token"`
	ProcessorSuccessURL  string        `mapstructure:"processor_success_url"`
	ProcessorFailureURL  string        `mapstructure:"processor_failure_url"`
	ProcessorPendingURL  string        `mapstructure:"processor_pending_url"`
	ClientTimeout        time.Duration `mapstructure:"client_timeout"`

	TaxRate string `mapstructure:"tax_rate"`

	RenewalEnabled   bool          `mapstructure:"renewal_enabled"`
	RenewalInterval  time.Duration `mapstructure:"renewal_interval"`
	RenewalBatchSize int           `mapstructure:"renewal_batch_size"`

	BreakerMaxFailures  int           `mapstructure:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
	CreateOrderTimeout  time.Duration `mapstructure:"create_order_timeout"`

	ReconcileWorkers   int `mapstructure:"reconcile_workers"`
	ReconcileQueueSize int `mapstructure:"reconcile_queue_size"`
}

// DefaultConfig возвращает настройки локального запуска: память и заглушки соседей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:        ":50051",
		HTTPAddr:        ":9090",
		ShutdownTimeout: 10 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		PostgresConnMaxLife: 30 * time.Minute,

		KafkaOrderTopic:    "payflow.order.events",
		KafkaCallbackTopic: "payflow.processor.callbacks",
		KafkaDLQTopic:      "payflow.dlq",
		KafkaConsumerGroup: "payflow-reconciler",
		KafkaMaxRetries:    3,

		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   5,
		OutboxRetryDelay:    200 * time.Millisecond,
		OutboxMaxRetryDelay: 5 * time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,

		AllowMockIntegrations: true,

		GatewayTimeout:         5 * time.Second,
		CredentialFetchTimeout: 5 * time.Second,
		ClientTimeout:          5 * time.Second,

		TaxRate: pricing.DefaultTaxRate.String(),

		RenewalEnabled:   true,
		RenewalInterval:  time.Hour,
		RenewalBatchSize: 100,

		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
		CreateOrderTimeout:  15 * time.Second,

		ReconcileWorkers:   4,
		ReconcileQueueSize: 256,
	}
}

// LoadConfig читает настройки: значения по умолчанию, затем YAML-файл (если задан),
// затем переменные окружения PAYFLOW_*.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults регистрирует каждый ключ Config: без этого AutomaticEnv не виден Unmarshal.
func setDefaults(v *viper.Viper, defaults Config) {
	rv := reflect.ValueOf(defaults)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		v.SetDefault(key, rv.Field(i).Interface())
	}
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.KafkaBrokers = strings.TrimSpace(c.KafkaBrokers)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.TaxRate = strings.TrimSpace(c.TaxRate)
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage_driver %q (use memory|postgres)", c.StorageDriver))
	}

	if _, err := c.TaxRateDecimal(); err != nil {
		errs = append(errs, err)
	}

	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox_poll_interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox_max_attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox_retry_delay must not be negative"))
	}
	if c.OutboxMaxRetryDelay < c.OutboxRetryDelay {
		errs = append(errs, errors.New("outbox_max_retry_delay must not be below outbox_retry_delay"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency_ttl must be positive"))
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval and batch size must be positive"))
	}
	if c.RenewalEnabled && (c.RenewalInterval <= 0 || c.RenewalBatchSize <= 0) {
		errs = append(errs, errors.New("renewal interval and batch size must be positive"))
	}
	if c.ReconcileWorkers <= 0 || c.ReconcileQueueSize <= 0 {
		errs = append(errs, errors.New("reconcile workers and queue size must be positive"))
	}

	if !c.AllowMockIntegrations {
		required := map[string]string{
			"gateway_url":   c.GatewayURL,
			"products_url":  c.ProductsURL,
			"services_url":  c.ServicesURL,
			"accounts_url":  c.AccountsURL,
			"processor_url": c.ProcessorURL,
		}
		for _, key := range []string{"gateway_url", "products_url", "services_url", "accounts_url", "processor_url"} {
			if strings.TrimSpace(required[key]) == "" {
				errs = append(errs, fmt.Errorf("%s is required when mock integrations are disabled", key))
			}
		}
	}

	return errors.Join(errs...)
}

// TaxRateDecimal разбирает ставку налога.
func (c Config) TaxRateDecimal() (decimal.Decimal, error) {
	if c.TaxRate == "" {
		return pricing.DefaultTaxRate, nil
	}
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax_rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("tax_rate %s must be in [0, 1)", rate)
	}
	return rate, nil
}

// KafkaBrokerList разбивает список брокеров.
func (c Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
