package main

import (
	"flag"
	"log"

	"github.com/hirewire/billing/internal/config"
	appLogger "github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	// Parse command line flags
	command := flag.String("command", "up", "Migration command to run (up, down, status)")
	dir := flag.String("dir", "migrations/postgres", "Directory holding the migration files")
	flag.Parse()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := appLogger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)

	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	// Route goose output through the application logger
	goose.SetLogger(&gooseLogger{log: logger})

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatalw("Failed to set goose dialect", "error", err)
	}

	logger.Infow("Running database migrations", "command", *command, "dir", *dir)

	switch *command {
	case "up":
		err = goose.Up(db.DB.DB, *dir)
	case "down":
		err = goose.Down(db.DB.DB, *dir)
	case "status":
		err = goose.Status(db.DB.DB, *dir)
	default:
		logger.Fatalf("Unknown migration command: %s", *command)
	}
	if err != nil {
		logger.Fatalw("Migration failed", "error", err)
	}

	logger.Info("Migration completed successfully")
}

type gooseLogger struct {
	log *appLogger.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatalf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}
