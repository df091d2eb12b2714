package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hirewire/billing/internal/config"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/httpclient"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/pubsub"
	pubsubRouter "github.com/hirewire/billing/internal/pubsub/router"
	"github.com/hirewire/billing/internal/types"
)

// Handler consumes published notification events and delivers them to the
// configured webhook endpoint.
type Handler interface {
	RegisterHandler(router *pubsubRouter.Router)
}

type handler struct {
	pubSub pubsub.PubSub
	config *config.NotificationConfig
	client httpclient.Client
	logger *logger.Logger
}

// NewHandler creates a handler that delivers notification events over HTTP.
func NewHandler(
	pubSub pubsub.PubSub,
	cfg *config.Configuration,
	client httpclient.Client,
	logger *logger.Logger,
) (Handler, error) {
	return &handler{
		pubSub: pubSub,
		config: &cfg.Notification,
		client: client,
		logger: logger,
	}, nil
}

func (h *handler) RegisterHandler(router *pubsubRouter.Router) {
	router.AddNoPublishHandler(
		"notification_handler",
		h.config.Topic,
		h.pubSub,
		h.processMessage,
	)
}

// processMessage processes a single notification message.
func (h *handler) processMessage(msg *message.Message) error {
	ctx := msg.Context()

	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Errorw("failed to unmarshal notification event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil // Don't retry on unmarshal errors
	}

	ctx = types.SetTenantID(ctx, event.TenantID)

	if h.config.WebhookURL == "" {
		h.logger.Debugw("no webhook endpoint configured, dropping event",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	return h.deliver(ctx, &event, msg)
}

// deliver posts the raw event payload to the webhook endpoint. Transport
// failures and retryable statuses return an error so the router retries the
// message; endpoint rejections are dropped after logging.
func (h *handler) deliver(ctx context.Context, event *Event, msg *message.Message) error {
	req := &httpclient.Request{
		Method:  http.MethodPost,
		URL:     h.config.WebhookURL,
		Headers: h.config.Headers,
		Body:    msg.Payload,
	}

	resp, err := h.client.Send(ctx, req)
	if err != nil {
		h.logger.Errorw("failed to deliver notification",
			"error", err,
			"message_uuid", msg.UUID,
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return err
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		h.logger.Infow("notification delivered",
			"message_uuid", msg.UUID,
			"event_id", event.ID,
			"event_type", event.Type,
			"status_code", resp.StatusCode,
		)
		return nil
	}

	if shouldRetryStatus(resp.StatusCode) {
		h.logger.Errorw("notification delivery failed with retryable status",
			"message_uuid", msg.UUID,
			"event_id", event.ID,
			"event_type", event.Type,
			"status_code", resp.StatusCode,
		)
		return ierr.NewError("notification delivery failed").
			WithHintf("endpoint responded with status %d", resp.StatusCode).
			Mark(ierr.ErrHTTPClient)
	}

	h.logger.Warnw("notification rejected by endpoint, dropping event",
		"message_uuid", msg.UUID,
		"event_id", event.ID,
		"event_type", event.Type,
		"status_code", resp.StatusCode,
	)
	return nil
}

// shouldRetryStatus reports whether a delivery attempt that reached the
// endpoint is worth retrying based on the response status.
func shouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return statusCode >= http.StatusInternalServerError
}
