package notification

import (
	"github.com/hirewire/billing/internal/config"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/pubsub"
	"github.com/hirewire/billing/internal/pubsub/kafka"
	"github.com/hirewire/billing/internal/pubsub/memory"
	"github.com/hirewire/billing/internal/types"
	"go.uber.org/fx"
)

// Module provides all notification delivery dependencies.
var Module = fx.Options(
	fx.Provide(
		// PubSub transport for notification events
		providePubSub,

		// Publisher for producing notification events
		NewPublisher,

		// Handler for delivering notification events
		NewHandler,
	),
)

func providePubSub(
	cfg *config.Configuration,
	logger *logger.Logger,
) (pubsub.PubSub, error) {
	switch cfg.Notification.PubSub {
	case types.MemoryPubSub:
		return memory.NewPubSub(logger), nil
	case types.KafkaPubSub:
		return kafka.NewPubSub(cfg, logger)
	}
	return nil, ierr.NewError("unsupported pubsub type").
		WithHintf("pubsub type %s is not supported", cfg.Notification.PubSub).
		Mark(ierr.ErrValidation)
}
