package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"
	"github.com/hirewire/billing/internal/types"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment   DeploymentConfig `validate:"required"`
	Server       ServerConfig     `validate:"required"`
	Postgres     PostgresConfig   `validate:"required"`
	ClickHouse   ClickHouseConfig `validate:"required"`
	Logging      LoggingConfig    `validate:"required"`
	Sentry       SentryConfig
	Pyroscope    PyroscopeConfig
	Billing      BillingConfig
	Notification NotificationConfig
	Kafka        KafkaConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

type ClickHouseConfig struct {
	Address  string
	TLS      bool
	Username string
	Password string
	Database string
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

type PyroscopeConfig struct {
	Enabled         bool
	ServerAddress   string
	ApplicationName string
	BasicAuthUser   string
	BasicAuthPass   string
	SampleRate      uint32
	ProfileTypes    []string
}

// BillingConfig tunes the lifecycle engine. Zero values fall back to the
// documented defaults at the point of use.
type BillingConfig struct {
	// ProrationStrategy selects the coefficient calculation, default second_based
	ProrationStrategy types.ProrationStrategy
	// NearLimitPercent is the usage percentage that flips a feature to
	// near_limit, default 90
	NearLimitPercent int
	// ReminderDays are the days-before-expiry offsets for renewal reminders,
	// default [7, 3, 1]
	ReminderDays []int
	// GracePeriodDays keeps an overdue subscription in past_due for this many
	// days before the sweep expires it, default 0 (expire immediately)
	GracePeriodDays int
}

type NotificationConfig struct {
	Enabled bool
	Topic   string
	PubSub  types.PubSubType
	// WebhookURL receives the rendered notification events, one POST per event
	WebhookURL string
	Headers    map[string]string

	// Delivery retry policy for the notification router
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

func NewConfig() (*Configuration, error) {
	// Load .env if present; real deployments set env vars directly
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hirewire")

	// Set up environment variables support
	v.SetEnvPrefix("HIREWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Billing.ProrationStrategy != "" {
		if err := c.Billing.ProrationStrategy.Validate(); err != nil {
			return err
		}
	}
	if c.Notification.Enabled && c.Notification.PubSub == types.KafkaPubSub && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when notification pubsub is kafka")
	}
	return nil
}

// GetDefaultConfig returns a default configuration for local development.
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Billing: BillingConfig{
			ProrationStrategy: types.StrategySecondBased,
			NearLimitPercent:  90,
			ReminderDays:      types.DefaultReminderOffsets,
		},
		Notification: NotificationConfig{
			Enabled:         false,
			Topic:           "notifications",
			PubSub:          types.MemoryPubSub,
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  5 * time.Minute,
		},
	}
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
