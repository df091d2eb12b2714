package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hirewire/billing/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "seed-plans",
		Description: "Seed the starter plan catalog into Postgres",
		Run:         internal.SeedPlans,
	},
	{
		Name:        "seed-events",
		Description: "Seed random usage events into ClickHouse",
		Run:         internal.SeedUsageEvents,
	},
	{
		Name:        "kafka-test",
		Description: "Check connectivity to the configured Kafka brokers",
		Run:         internal.TestKafkaConnection,
	},
}

func main() {
	var (
		listCommands bool
		cmdName      string
		kafkaUser    string
		kafkaPass    string
	)

	flag.BoolVar(&listCommands, "list", false, "List all available commands")
	flag.StringVar(&cmdName, "cmd", "", "Command to run")
	flag.StringVar(&kafkaUser, "kafka-username", "", "SASL username for kafka-test")
	flag.StringVar(&kafkaPass, "kafka-password", "", "SASL password for kafka-test")

	flag.Parse()

	if listCommands {
		fmt.Println("Available commands:")
		for _, cmd := range commands {
			fmt.Printf("  %-20s %s\n", cmd.Name, cmd.Description)
		}
		return
	}

	if cmdName == "" {
		log.Fatal("Please specify a command to run using -cmd flag. Use -list to see available commands.")
	}

	// Set command-specific environment variables
	if kafkaUser != "" {
		os.Setenv("KAFKA_USERNAME", kafkaUser)
	}
	if kafkaPass != "" {
		os.Setenv("KAFKA_PASSWORD", kafkaPass)
	}

	// Find and run the command
	for _, cmd := range commands {
		if cmd.Name == cmdName {
			if err := cmd.Run(); err != nil {
				log.Fatalf("Command %s failed: %v", cmdName, err)
			}
			return
		}
	}

	log.Fatalf("Unknown command: %s. Use -list to see available commands.", cmdName)
}
