package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/adapters/switchbot"
	"github.com/frostdev-ops/pma-alerting-go/internal/api"
	"github.com/frostdev-ops/pma-alerting-go/internal/api/handlers"
	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/ingest"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/journal"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/notify"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/scheduler"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/frostdev-ops/pma-alerting-go/internal/database"
	"github.com/frostdev-ops/pma-alerting-go/internal/discovery"
	"github.com/frostdev-ops/pma-alerting-go/internal/websocket"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const (
	channelHTTPTimeout = 15 * time.Second
	pruneTimeout       = time.Minute
)

// app holds every long-lived component of the service.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	registry  *rules.Registry
	window    *stream.Window
	collector *metrics.PrometheusCollector
	health    *metrics.HealthChecker
	evaluator *alarm.Evaluator
	router    *notify.Router
	scheduler *scheduler.Scheduler
	hub       *websocket.Hub
	hubCancel context.CancelFunc

	db      *sqlx.DB
	repos   *database.Repositories
	journal *journal.Writer

	switchbot  *switchbot.Client
	actuator   *switchbot.Actuator
	advertiser *discovery.Advertiser
	server     *http.Server
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	registry, err := loadRules(cfg.Alerting)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	log.WithFields(logrus.Fields{
		"rules":     registry.Len(),
		"periods":   len(registry.Periods()),
		"retention": registry.Retention().String(),
	}).Info("Rule registry loaded")

	loc, err := cfg.Alerting.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	bindings, err := bindingTable(cfg.Notifications.Bindings)
	if err != nil {
		return nil, err
	}

	a.window = stream.NewWindow(registry.Retention())
	a.collector = metrics.NewPrometheusCollector(&metrics.MetricsConfig{
		Enabled: cfg.Metrics.Enabled,
		Prefix:  cfg.Metrics.Prefix,
	})
	a.health = metrics.NewHealthChecker(5 * time.Second)

	a.hub = websocket.NewHub(log, a.collector)

	if cfg.Database.Enabled {
		if err := a.openJournal(); err != nil {
			return nil, err
		}
	}

	if cfg.SwitchBot.Enabled {
		a.switchbot = switchbot.NewClient(switchbot.Config{
			Token:      cfg.SwitchBot.Token,
			Secret:     cfg.SwitchBot.Secret,
			BaseURL:    cfg.SwitchBot.BaseURL,
			DeviceType: cfg.SwitchBot.DeviceType,
			MaxRetries: cfg.SwitchBot.MaxRetries,
			BaseDelay:  cfg.SwitchBot.BaseDelay,
		}, nil, log)
		a.actuator = switchbot.NewActuator(a.switchbot, actionTable(cfg.SwitchBot, cfg.Alerting.PiPlug), a.collector, log)
	}

	// Transitions reach the router, the journal and the live feed.
	fanOut := alarm.NewFanOut()
	a.router = notify.NewRouter(notify.RouterConfig{
		QueueCapacity:  cfg.Notifications.QueueCapacity,
		SendTimeout:    cfg.Notifications.SendTimeout,
		BackoffInitial: cfg.Notifications.BackoffInitial,
		BackoffMax:     cfg.Notifications.BackoffMax,
		DedupSize:      cfg.Notifications.DedupSize,
	}, bindings, a.channels(), a.errorSink(), a.collector, log)
	fanOut.Add(a.router)
	if a.journal != nil {
		fanOut.Add(a.journal)
	}
	if cfg.Notifications.Channels.WebSocket.Enabled {
		fanOut.Add(notify.NewBroadcastChannel("websocket", a.hub))
	}

	a.evaluator = alarm.NewEvaluator(a.window, fanOut, log, alarm.WithObserver(a.collector))
	a.scheduler = scheduler.New(scheduler.Config{
		Delay:         cfg.Alerting.EvaluationDelay,
		MaxConcurrent: cfg.Alerting.MaxConcurrentEvals,
		TickTimeout:   cfg.Alerting.TickTimeout,
		Location:      loc,
	}, registry, a.evaluator, a.collector, log)

	recorder := ingest.NewRecorder(a.window, a.collector, log)
	if err := a.scheduleJobs(recorder); err != nil {
		return nil, err
	}

	a.advertiser = discovery.NewAdvertiser(cfg.Discovery, cfg.Server.Port, map[string]string{
		"version":   version.GetVersion(),
		"namespace": cfg.Alerting.Namespace,
		"rules":     strconv.Itoa(registry.Len()),
		"path":      "/api/v1",
	}, log)

	a.registerHealthChecks()

	deps := handlers.Dependencies{
		Rules:    registry,
		Alarms:   a.evaluator,
		Ingestor: recorder,
		Series:   a.window,
		Decoder:  ingest.NewDecoder(cfg.Alerting.Namespace, loc),
		Health:   a.health,
		Hub:      a.hub,
		Logger:   log,
	}
	if a.repos != nil {
		deps.Journal = a.repos.Journal
	}
	if a.actuator != nil {
		deps.Actions = a.actuator
	}
	if cfg.Discovery.Enabled {
		deps.Peers = a.advertiser
	}

	opts := api.Options{
		Server:  cfg.Server,
		Auth:    cfg.Auth,
		Metrics: a.collector,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsHandler = a.collector.Handler()
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(opts, deps, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

func loadRules(cfg config.AlertingConfig) (*rules.Registry, error) {
	var list []rules.AlarmRule
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		list = loaded
	} else {
		opts := rules.DefaultCatalogueOptions()
		opts.Namespace = cfg.Namespace
		if len(cfg.Meters) > 0 {
			opts.Meters = cfg.Meters
		}
		if cfg.PiPlug != "" {
			opts.PiPlug = cfg.PiPlug
		}
		if cfg.FanPlug != "" {
			opts.FanPlug = cfg.FanPlug
		}
		if cfg.PiAction != "" {
			opts.PiAction = cfg.PiAction
		}
		list = rules.DefaultCatalogue(opts)
	}

	registry, err := rules.NewRegistry(list)
	if err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	return registry, nil
}

func (a *app) openJournal() error {
	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return err
	}
	a.db = db
	a.repos = database.NewRepositories(db, a.log)
	a.journal = journal.NewWriter(a.repos.Journal, a.cfg.Database.Retention, a.log)
	a.log.WithField("path", a.cfg.Database.Path).Info("Alarm journal ready")
	return nil
}

func (a *app) errorSink() notify.ErrorSink {
	sinks := notify.MultiSink{notify.LogSink{Logger: a.log}}
	if a.journal != nil {
		sinks = append(sinks, a.journal)
	}
	return sinks
}

// channels builds one collaborator per channel id. Integrations that are
// disabled fall back to the console so bindings never point nowhere.
func (a *app) channels() []notify.Channel {
	cfg := a.cfg.Notifications.Channels
	client := &http.Client{Timeout: channelHTTPTimeout}

	built := map[string]notify.Channel{}
	if cfg.Pushover.Enabled {
		built[notify.ChannelPager] = notify.NewPushoverChannel(notify.ChannelPager, notify.PushoverConfig{
			APIKey:   cfg.Pushover.APIKey,
			UserKey:  cfg.Pushover.UserKey,
			URL:      cfg.Pushover.URL,
			Priority: cfg.Pushover.Priority,
			Retry:    cfg.Pushover.Retry,
			Expire:   cfg.Pushover.Expire,
			Sound:    cfg.Pushover.Sound,
		}, client, a.log)
	}
	if cfg.Webhook.Enabled {
		built[notify.ChannelAlerts] = notify.NewWebhookChannel(notify.ChannelAlerts, notify.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
		}, client)
	}
	if cfg.Email.Enabled {
		built[notify.ChannelRecovery] = notify.NewEmailChannel(notify.ChannelRecovery, notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}, nil)
	}
	if cfg.Remediation.Enabled && a.actuator != nil {
		built[notify.ChannelRemediation] = notify.NewRemediationChannel(notify.ChannelRemediation, a.actuator, a.log)
	}

	names := []string{notify.ChannelPager, notify.ChannelAlerts, notify.ChannelRecovery, notify.ChannelRemediation}
	for _, b := range a.cfg.Notifications.Bindings {
		names = append(names, b.Channels...)
	}

	var out []notify.Channel
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		ch, ok := built[name]
		if !ok {
			a.log.WithField("channel", name).Info("Channel integration disabled, notifications go to the log")
			ch = notify.NewConsoleChannel(name, a.log)
		}
		out = append(out, ch)
	}
	return out
}

// bindingTable applies configured overrides on top of the default routing.
// Severity and direction are matched case-insensitively.
func bindingTable(overrides []config.BindingConfig) (notify.BindingTable, error) {
	table := notify.DefaultBindings()
	for i, b := range overrides {
		var (
			sev rules.Severity
			dir alarm.Direction
		)
		if err := sev.UnmarshalText([]byte(b.Severity)); err != nil {
			return nil, fmt.Errorf("notifications.bindings[%d]: %w", i, err)
		}
		if err := dir.UnmarshalText([]byte(b.Direction)); err != nil {
			return nil, fmt.Errorf("notifications.bindings[%d]: %w", i, err)
		}
		table.Set(sev, dir, b.Channels...)
	}
	return table, nil
}

// actionTable maps action ids to plug commands. Without configured actions
// the Pi plug gets the built-in power-on action.
func actionTable(cfg config.SwitchBotConfig, piPlug string) map[string]switchbot.Action {
	if len(cfg.Actions) == 0 {
		device := piPlug
		for _, p := range cfg.Plugs {
			if (switchbot.Plug{Name: p.Name}).Dimension() == piPlug {
				device = p.Name
			}
		}
		return switchbot.DefaultActions(device)
	}

	actions := make(map[string]switchbot.Action, len(cfg.Actions))
	for id, ac := range cfg.Actions {
		cmd := switchbot.Command{Command: ac.Command, Parameter: "default", CommandType: "command"}
		actions[id] = switchbot.Action{Device: ac.Device, Command: cmd}
	}
	return actions
}

func (a *app) scheduleJobs(recorder *ingest.Recorder) error {
	sb := a.cfg.SwitchBot
	if sb.Enabled && sb.Poll.Enabled {
		plugs := make([]switchbot.Plug, 0, len(sb.Plugs))
		for _, p := range sb.Plugs {
			plugs = append(plugs, switchbot.Plug{Name: p.Name, DeviceID: p.DeviceID})
		}
		poller := switchbot.NewPoller(a.switchbot, recorder, a.cfg.Alerting.Namespace, plugs, a.log)
		if err := a.scheduler.AddJob(sb.Poll.Schedule, poller.Run); err != nil {
			return err
		}
	}

	if a.journal != nil && a.cfg.Database.PruneSchedule != "" {
		err := a.scheduler.AddJob(a.cfg.Database.PruneSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
			defer cancel()
			if _, err := a.journal.Prune(ctx); err != nil {
				a.log.WithError(err).Warn("Journal prune failed")
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) registerHealthChecks() {
	a.health.Register("scheduler", func(ctx context.Context) metrics.HealthStatus {
		if !a.scheduler.IsRunning() {
			return metrics.NewHealthStatus(metrics.StatusUnhealthy, "scheduler is not running")
		}
		status := metrics.NewHealthStatus(metrics.StatusHealthy, "scheduler is running")
		for period, next := range a.scheduler.NextRuns() {
			status = status.WithDetail("next_"+period.String(), next)
		}
		return status
	})

	a.health.Register("metric_window", func(ctx context.Context) metrics.HealthStatus {
		stats := a.window.Stats()
		return metrics.NewHealthStatus(metrics.StatusHealthy, "in-memory window available").
			WithDetail("series", stats.Series).
			WithDetail("points", stats.Points)
	})

	a.health.Register("notifications", func(ctx context.Context) metrics.HealthStatus {
		depths := a.router.QueueDepths()
		status := metrics.NewHealthStatus(metrics.StatusHealthy, "router queues draining").
			WithDetail("queues", depths)
		for _, depth := range depths {
			if depth >= a.cfg.Notifications.QueueCapacity {
				return metrics.NewHealthStatus(metrics.StatusDegraded, "a channel queue is full").
					WithDetail("queues", depths)
			}
		}
		return status
	})

	if a.db != nil {
		a.health.Register("journal", func(ctx context.Context) metrics.HealthStatus {
			if err := a.db.PingContext(ctx); err != nil {
				return metrics.NewHealthStatus(metrics.StatusDegraded, "journal database unreachable: "+err.Error())
			}
			stats := a.journal.Stats()
			status := metrics.NewHealthStatus(metrics.StatusHealthy, "journal writable").
				WithDetail("written", stats.Written).
				WithDetail("dropped", stats.Dropped).
				WithDetail("failed", stats.Failed)
			if stats.Failed > 0 || stats.Dropped > 0 {
				status.Status = metrics.StatusDegraded
				status.Message = "journal lost entries"
			}
			return status
		})
	}

	a.health.Register("websocket", func(ctx context.Context) metrics.HealthStatus {
		return metrics.NewHealthStatus(metrics.StatusHealthy, "live feed available").
			WithDetail("clients", a.hub.GetClientCount())
	})
}
