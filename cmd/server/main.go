package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/api/middleware"
	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	issueToken := flag.String("issue-token", "", "print an API token for the given subject and exit")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := middleware.IssueToken(cfg.Auth.JWTSecret, *issueToken, cfg.Auth.TokenTTL(), time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
		"commit":  version.GitCommit,
	}).Info("Starting alerting service")

	a, err := newApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize service")
	}

	if err := a.start(); err != nil {
		log.WithError(err).Fatal("Failed to start service")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.shutdown(ctx)
	log.Info("Server exited")
}

func (a *app) start() error {
	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.hub.Run(hubCtx)

	if a.journal != nil {
		a.journal.Start()
	}
	if err := a.router.Start(); err != nil {
		return err
	}
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	go func() {
		a.log.WithField("addr", a.server.Addr).Info("Server starting")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	if err := a.advertiser.Start(); err != nil {
		a.log.WithError(err).Warn("mDNS advertisement failed, continuing without discovery")
	}
	return nil
}

// shutdown stops intake first so queued notifications and journal entries
// drain before the database closes.
func (a *app) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("Server forced to shutdown")
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.log.WithError(err).Warn("Scheduler did not stop cleanly")
	}
	if err := a.router.Stop(ctx); err != nil {
		a.log.WithError(err).Warn("Notification router did not drain")
	}
	if a.journal != nil {
		a.journal.Stop()
	}
	a.advertiser.Stop()
	if a.hubCancel != nil {
		a.hubCancel()
	}
	a.window.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close journal database")
		}
	}
}
