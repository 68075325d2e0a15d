package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/credential"
	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/gateway"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	"github.com/vladislavdragonenkov/payflow/internal/service/accounts"
	"github.com/vladislavdragonenkov/payflow/internal/service/catalog"
	"github.com/vladislavdragonenkov/payflow/internal/service/processor"
	"github.com/vladislavdragonenkov/payflow/internal/service/rest"
)

// integrations: клиенты соседних сервисов.
type integrations struct {
	products  domain.CatalogService
	services  domain.CatalogService
	accounts  domain.AccountsService
	bank      domain.BankGateway
	processor domain.PaymentProcessor

	// credentials задан, только если используется настоящий банковский шлюз.
	credentials *credential.Cache
	// mocked перечисляет соседей, подменённых заглушками.
	mocked []string
}

// initIntegrations создаёт HTTP-клиенты для соседей с заданным URL.
// Остальные заменяются заглушками; Validate не пропускает это без AllowMockIntegrations.
func initIntegrations(cfg Config, registerer prometheus.Registerer, logger *log.Entry) *integrations {
	in := &integrations{}
	restOpts := []rest.Option{rest.WithTimeout(cfg.ClientTimeout)}

	if cfg.ProductsURL != "" {
		in.products = catalog.NewClient(rest.New(cfg.ProductsURL, restOpts...))
	} else {
		in.products = catalog.NewMockService()
		in.mocked = append(in.mocked, "products")
	}

	if cfg.ServicesURL != "" {
		in.services = catalog.NewClient(rest.New(cfg.ServicesURL, restOpts...))
	} else {
		in.services = catalog.NewMockService()
		in.mocked = append(in.mocked, "services")
	}

	if cfg.AccountsURL != "" {
		in.accounts = accounts.NewClient(rest.New(cfg.AccountsURL, restOpts...))
	} else {
		in.accounts = accounts.NewMockService()
		in.mocked = append(in.mocked, "accounts")
	}

	if cfg.ProcessorURL != "" {
		processorRest := rest.New(cfg.ProcessorURL, append(restOpts, rest.WithBearer(cfg.ProcessorAccessToken))...)
		in.processor = processor.NewClient(processorRest, processor.BackURLs{
			Success: cfg.ProcessorSuccessURL,
			Failure: cfg.ProcessorFailureURL,
			Pending: cfg.ProcessorPendingURL,
		})
	} else {
		in.processor = processor.NewMockService()
		in.mocked = append(in.mocked, "processor")
	}

	if cfg.GatewayURL != "" {
		hc := &http.Client{Timeout: cfg.GatewayTimeout}
		in.credentials = credential.NewCache(
			gateway.NewHTTPTokenSource(cfg.GatewayURL, cfg.GatewayAPIKey, hc),
			credential.WithFetchTimeout(cfg.CredentialFetchTimeout),
			credential.WithLogger(logger.WithField("component", "credential-cache")),
			credential.WithMetrics(metrics.NewCredentialMetrics(registerer)),
		)
		client := gateway.NewClient(cfg.GatewayURL, in.credentials,
			gateway.WithHTTPClient(hc),
			gateway.WithLogger(logger.WithField("component", "bank-gateway")),
			gateway.WithMetrics(metrics.NewGatewayMetrics(registerer)),
		)
		in.bank = gateway.NewBank(client)
	} else {
		in.bank = gateway.NewMockBank()
		in.mocked = append(in.mocked, "bank")
	}

	if len(in.mocked) > 0 {
		logger.WithField("mocked", in.mocked).Warn("using mock integrations")
	}
	return in
}
