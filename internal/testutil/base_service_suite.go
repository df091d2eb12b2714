package testutil

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/cache"
	"github.com/hirewire/billing/internal/clock"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/reminder"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/domain/usage"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/types"
	"github.com/hirewire/billing/internal/validator"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
)

// BaseTime is the instant every suite's fake clock starts at. Tests advance
// the clock explicitly instead of sleeping.
var BaseTime = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)

// Stores holds all the repository interfaces for testing
type Stores struct {
	PlanRepo         plan.Repository
	SubscriptionRepo subscription.Repository
	HistoryRepo      subscription.HistoryRepository
	PaymentRepo      payment.Repository
	ReminderRepo     reminder.Repository
	UsageRepo        usage.Repository
	EventRepo        events.Repository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	publisher *InMemoryNotificationPublisher
	clock     clockwork.FakeClock
	logger    *logger.Logger
	config    *config.Configuration
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	// Initialize validator
	validator.NewValidator()

	// Initialize logger with test config
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	s.config = cfg

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	// Initialize cache
	cache.Initialize(s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.clock = clock.NewFakeAt(BaseTime)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
	cache.GetInMemoryCache().Flush(s.ctx)
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		PlanRepo:         NewInMemoryPlanStore(),
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		HistoryRepo:      NewInMemoryHistoryStore(),
		PaymentRepo:      NewInMemoryPaymentStore(),
		ReminderRepo:     NewInMemoryReminderStore(),
		UsageRepo:        NewInMemoryUsageStore(),
		EventRepo:        NewInMemoryEventStore(),
	}
	s.publisher = NewInMemoryNotificationPublisher()
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.PlanRepo.(*InMemoryPlanStore).Clear()
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.HistoryRepo.(*InMemoryHistoryStore).Clear()
	s.stores.PaymentRepo.(*InMemoryPaymentStore).Clear()
	s.stores.ReminderRepo.(*InMemoryReminderStore).Clear()
	s.stores.UsageRepo.(*InMemoryUsageStore).Clear()
	s.stores.EventRepo.(*InMemoryEventStore).Clear()
	s.publisher.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetPublisher returns the notification capture publisher
func (s *BaseServiceTestSuite) GetPublisher() *InMemoryNotificationPublisher {
	return s.publisher
}

// GetClock returns the fake clock driving the suite
func (s *BaseServiceTestSuite) GetClock() clockwork.FakeClock {
	return s.clock
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the current fake clock time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now().UTC()
}

// AdvanceClock moves the fake clock forward
func (s *BaseServiceTestSuite) AdvanceClock(d time.Duration) {
	s.clock.Advance(d)
}

// AdvanceClockTo moves the fake clock to the given instant
func (s *BaseServiceTestSuite) AdvanceClockTo(t time.Time) {
	d := t.Sub(s.clock.Now())
	if d > 0 {
		s.clock.Advance(d)
	}
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
