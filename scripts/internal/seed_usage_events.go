package internal

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/hirewire/billing/internal/clickhouse"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/repository"
	"github.com/hirewire/billing/internal/sentry"
	"github.com/hirewire/billing/internal/types"
)

const (
	NUM_EVENTS       = 1000
	BATCH_SIZE       = 50
	BATCHES_PER_SEC  = 10
	EVENT_WINDOW_DAY = 7
)

// EventGenerator produces random usage events for existing subscriptions
type EventGenerator struct {
	subs     []*subscription.Subscription
	features []types.FeatureCode
	logger   *logger.Logger
}

func NewEventGenerator(subs []*subscription.Subscription, logger *logger.Logger) *EventGenerator {
	return &EventGenerator{
		subs: subs,
		features: []types.FeatureCode{
			types.FeatureJobPostings,
			types.FeatureApplications,
			types.FeatureResumeViews,
			types.FeatureScoringCalls,
			types.FeatureSupportTickets,
		},
		logger: logger,
	}
}

// generateEvent creates a random event spread over the trailing window
func (g *EventGenerator) generateEvent(index int) *events.UsageEvent {
	sub := g.subs[index%len(g.subs)]
	feature := g.features[rand.Intn(len(g.features))]
	quantity := int64(rand.Intn(5) + 1)
	timestamp := time.Now().UTC().
		Add(-time.Duration(rand.Intn(EVENT_WINDOW_DAY*24)) * time.Hour)

	return events.NewUsageEvent(
		sub.TenantID,
		sub.ID,
		sub.Subscriber(),
		feature,
		quantity,
		timestamp,
		"seed-script",
		map[string]interface{}{"seeded": true},
	)
}

// SeedUsageEvents pushes a batch of random usage events into ClickHouse for
// the subscriptions already present in Postgres. Useful for exercising the
// usage trail queries against a local stack.
func SeedUsageEvents() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("error creating logger: %v", err)
	}

	ctx := types.SetTenantID(context.Background(), types.DefaultTenantID)
	ctx = types.SetUserID(ctx, "seed-script")

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	sentryService := sentry.NewSentryService(cfg, log)
	store, err := clickhouse.NewClickHouseStore(cfg, sentryService)
	if err != nil {
		return fmt.Errorf("failed to connect to clickhouse: %v", err)
	}

	subRepo := repository.NewSubscriptionRepository(db, log)
	eventRepo := repository.NewEventRepository(store, log)

	subs, err := subRepo.ListAll(ctx, types.NewNoLimitSubscriptionFilter())
	if err != nil {
		return fmt.Errorf("failed to fetch subscriptions: %v", err)
	}
	if len(subs) == 0 {
		return fmt.Errorf("no subscriptions found to generate events for")
	}

	log.Info("Starting usage event seeding...")
	log.Infof("Found %d subscriptions to generate events for", len(subs))
	log.Infof("Sending %d events in batches of %d at %d batches/s",
		NUM_EVENTS, BATCH_SIZE, BATCHES_PER_SEC)

	generator := NewEventGenerator(subs, log)
	limiter := rate.NewLimiter(rate.Limit(BATCHES_PER_SEC), 1)

	start := time.Now()
	inserted := 0

	for i := 0; i < NUM_EVENTS; i += BATCH_SIZE {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		batchSize := BATCH_SIZE
		if i+BATCH_SIZE > NUM_EVENTS {
			batchSize = NUM_EVENTS - i
		}

		batch := make([]*events.UsageEvent, 0, batchSize)
		for j := 0; j < batchSize; j++ {
			batch = append(batch, generator.generateEvent(i+j))
		}

		if err := eventRepo.BulkInsertEvents(ctx, batch); err != nil {
			return fmt.Errorf("failed to insert batch at offset %d: %v", i, err)
		}
		inserted += batchSize
	}

	log.Infof("Seeded %d events in %s", inserted, time.Since(start).Round(time.Millisecond))
	return nil
}
