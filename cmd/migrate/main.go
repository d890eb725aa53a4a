package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/database"
	"github.com/neftit/taskgate/internal/database/migrations"
	"github.com/neftit/taskgate/internal/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [up|down]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	direction := "up"
	if flag.NArg() > 0 {
		direction = flag.Arg(0)
	}

	// Initialize configuration
	cfg := config.LoadConfig()
	if err := logger.Initialize(logger.Config{Debug: cfg.Log.Debug, SentryDSN: cfg.Log.SentryDSN}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Setup database connection
	db, err := database.Open(postgres.Open(cfg.Database.URL), cfg.Log.Debug)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	switch direction {
	case "up":
		err = migrations.RunMigrations(db)
	case "down":
		err = migrations.RollbackLast(db)
		if err == nil {
			logger.Info("rolled back last migration")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	logger.Flush(2 * time.Second)
	if err != nil {
		logger.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}
}
