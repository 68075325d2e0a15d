package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

var webhookCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_webhook_callbacks_total",
	Help: "Processor callbacks received grouped by result.",
}, []string{"result"})

// CallbackSink принимает идентификатор платежа на сверку: фоновый диспетчер или Kafka-топик.
type CallbackSink interface {
	Enqueue(ctx context.Context, paymentID string) error
}

// callbackBody: тело уведомления процессора. data.id бывает строкой или числом.
type callbackBody struct {
	Data struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// WebhookHandler принимает уведомления процессора и всегда отвечает 200:
// процессор не должен повторять доставку из-за наших внутренних ошибок.
type WebhookHandler struct {
	sink   CallbackSink
	logger *log.Entry
}

// NewWebhookHandler создаёт обработчик уведомлений.
func NewWebhookHandler(sink CallbackSink, logger *log.Entry) *WebhookHandler {
	if logger == nil {
		logger = log.WithField("component", "webhook")
	}
	return &WebhookHandler{sink: sink, logger: logger}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.accept(r)
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) accept(r *http.Request) {
	paymentID := h.paymentID(r)
	if paymentID == "" {
		webhookCallbacks.WithLabelValues("ignored").Inc()
		h.logger.WithField("query", r.URL.RawQuery).Info("processor callback without payment id ignored")
		return
	}

	if err := h.sink.Enqueue(r.Context(), paymentID); err != nil {
		webhookCallbacks.WithLabelValues("error").Inc()
		h.logger.WithError(err).WithField("payment_id", paymentID).Warn("processor callback not enqueued")
		return
	}
	webhookCallbacks.WithLabelValues("accepted").Inc()
}

// paymentID берёт data.id из тела, иначе параметр id из query.
func (h *WebhookHandler) paymentID(r *http.Request) string {
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			h.logger.WithError(err).Warn("read processor callback body failed")
		} else if len(data) > 0 {
			var body callbackBody
			if err := json.Unmarshal(data, &body); err == nil {
				if id := rawID(body.Data.ID); id != "" {
					return id
				}
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("id"))
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
