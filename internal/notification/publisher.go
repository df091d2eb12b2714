package notification

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/pubsub"
)

// Publisher produces notification events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

type publisher struct {
	pubSub pubsub.PubSub
	config *config.NotificationConfig
	logger *logger.Logger
}

// NewPublisher creates a publisher backed by the configured pubsub.
func NewPublisher(
	pubSub pubsub.PubSub,
	cfg *config.Configuration,
	logger *logger.Logger,
) (Publisher, error) {
	return &publisher{
		pubSub: pubSub,
		config: &cfg.Notification,
		logger: logger,
	}, nil
}

func (p *publisher) Publish(ctx context.Context, event *Event) error {
	if !p.config.Enabled {
		p.logger.Debugw("notifications disabled, dropping event",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	messageID := event.ID
	if messageID == "" {
		messageID = watermill.NewUUID()
	}

	msg := message.NewMessage(messageID, payload)
	msg.Metadata.Set("tenant_id", event.TenantID)
	msg.Metadata.Set("event_type", string(event.Type))

	p.logger.Debugw("publishing notification event",
		"event_id", event.ID,
		"event_type", event.Type,
		"subscription_id", event.SubscriptionID,
		"topic", p.config.Topic,
	)

	if err := p.pubSub.Publish(ctx, p.config.Topic, msg); err != nil {
		p.logger.Errorw("failed to publish notification event",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
			"subscription_id", event.SubscriptionID,
		)
		return err
	}

	p.logger.Infow("successfully published notification event",
		"event_id", event.ID,
		"event_type", event.Type,
		"subscription_id", event.SubscriptionID,
	)

	return nil
}

// Close closes the underlying pubsub.
func (p *publisher) Close() error {
	return p.pubSub.Close()
}
