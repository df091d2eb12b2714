package internal

import (
	"fmt"
	"os"
	"time"

	"github.com/Shopify/sarama"

	"github.com/hirewire/billing/internal/config"
)

// TestKafkaConnection dials the configured brokers and lists topics. SASL
// credentials come from KAFKA_USERNAME / KAFKA_PASSWORD when the cluster
// requires them.
func TestKafkaConnection() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0

	// Add timeouts
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second

	if username := os.Getenv("KAFKA_USERNAME"); username != "" {
		sc.Net.TLS.Enable = true
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = username
		sc.Net.SASL.Password = os.Getenv("KAFKA_PASSWORD")
	}

	// Create client
	client, err := sarama.NewClient(cfg.Kafka.Brokers, sc)
	if err != nil {
		return fmt.Errorf("error creating client: %v", err)
	}
	defer client.Close()

	// List topics to test connection
	topics, err := client.Topics()
	if err != nil {
		return fmt.Errorf("error listing topics: %v", err)
	}

	fmt.Printf("Successfully connected! Available topics: %v\n", topics)
	return nil
}
