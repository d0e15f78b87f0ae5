package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/frostdev-ops/pma-alerting-go/internal/database"
	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [-config path] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open journal database")
	}
	defer db.Close()

	m, err := database.NewMigrator(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to create migrate instance")
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("An error occurred while migrating up")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("An error occurred while migrating down")
		}
		log.Info("Migrations rolled back successfully")
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("No migrations applied")
			return
		}
		if err != nil {
			log.WithError(err).Fatal("Failed to read migration version")
		}
		log.WithField("version", v).WithField("dirty", dirty).Info("Current migration version")
	default:
		log.Fatalf("Unknown command: %s. Use up, down or version.", command)
	}
}
