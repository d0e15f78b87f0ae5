package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Evaluator runs one tick of a rule.
type Evaluator interface {
	Evaluate(ctx context.Context, rule rules.AlarmRule, asOf time.Time) (*alarm.NotificationEvent, error)
}

// RuleSource lists the rules grouped by period.
type RuleSource interface {
	Periods() []time.Duration
	RulesForPeriod(period time.Duration) []rules.AlarmRule
}

// TickObserver is told about every completed tick.
type TickObserver interface {
	TickCompleted(period time.Duration, rules int, took time.Duration)
}

// Config contains scheduler configuration
type Config struct {
	// Delay shifts every tick past its boundary so late points still land
	// in the period being closed.
	Delay time.Duration
	// MaxConcurrent bounds parallel rule evaluations within one tick.
	MaxConcurrent int
	// TickTimeout bounds a single tick.
	TickTimeout time.Duration
	Location    *time.Location
}

// alignedSchedule fires at every multiple of period plus delay, so ticks of
// different periods share wall-clock boundaries and never drift apart.
type alignedSchedule struct {
	period time.Duration
	delay  time.Duration
}

func (s alignedSchedule) Next(t time.Time) time.Time {
	return t.Add(-s.delay).Truncate(s.period).Add(s.period).Add(s.delay)
}

// Scheduler drives one cron entry per distinct rule period.
type Scheduler struct {
	cron      *cron.Cron
	rules     RuleSource
	evaluator Evaluator
	observer  TickObserver
	logger    *logrus.Logger
	config    Config
	sem       chan struct{}

	mu      sync.RWMutex
	running bool
	entries map[time.Duration]cron.EntryID
}

// New creates a scheduler. observer may be nil.
func New(config Config, source RuleSource, evaluator Evaluator, observer TickObserver, logger *logrus.Logger) *Scheduler {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.TickTimeout <= 0 {
		config.TickTimeout = 30 * time.Second
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		rules:     source,
		evaluator: evaluator,
		observer:  observer,
		logger:    logger,
		config:    config,
		sem:       make(chan struct{}, config.MaxConcurrent),
		entries:   make(map[time.Duration]cron.EntryID),
	}
}

// Start registers one entry per period and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for _, period := range s.rules.Periods() {
		period := period
		schedule := alignedSchedule{period: period, delay: s.config.Delay}
		s.entries[period] = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.runScheduled(period)
		}))
		s.logger.WithFields(logrus.Fields{
			"period":   period.String(),
			"rules":    len(s.rules.RulesForPeriod(period)),
			"next_run": schedule.Next(time.Now().In(s.config.Location)),
		}).Info("Evaluation period scheduled")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Alarm scheduler started")
	return nil
}

// AddJob schedules an auxiliary job with a six-field cron spec.
func (s *Scheduler) AddJob(spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", spec, err)
	}
	return nil
}

// Stop stops scheduling and waits for in-flight ticks until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("All in-flight ticks completed")
	case <-ctx.Done():
		s.logger.Warn("Timeout waiting for in-flight ticks to complete")
		return ctx.Err()
	}
	s.logger.Info("Alarm scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// NextRuns returns the next fire time per period.
func (s *Scheduler) NextRuns() map[time.Duration]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[time.Duration]time.Time, len(s.entries))
	for period, id := range s.entries {
		out[period] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) runScheduled(period time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TickTimeout)
	defer cancel()
	if _, err := s.RunTick(ctx, period, time.Now()); err != nil {
		s.logger.WithError(err).WithField("period", period.String()).Error("Evaluation tick failed")
	}
}

// RunTick evaluates every rule sharing period for the boundary at or before
// at minus the configured delay. Rules run concurrently up to MaxConcurrent.
func (s *Scheduler) RunTick(ctx context.Context, period time.Duration, at time.Time) ([]alarm.NotificationEvent, error) {
	asOf := at.Add(-s.config.Delay).Truncate(period)
	list := s.rules.RulesForPeriod(period)
	start := time.Now()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		events []alarm.NotificationEvent
		errs   []error
	)

	for _, rule := range list {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return events, ctx.Err()
		}

		wg.Add(1)
		go func(rule rules.AlarmRule) {
			defer wg.Done()
			defer func() { <-s.sem }()

			event, err := s.evaluator.Evaluate(ctx, rule, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
				return
			}
			if event != nil {
				events = append(events, *event)
			}
		}(rule)
	}
	wg.Wait()

	took := time.Since(start)
	if s.observer != nil {
		s.observer.TickCompleted(period, len(list), took)
	}
	s.logger.WithFields(logrus.Fields{
		"period":      period.String(),
		"as_of":       asOf.Format(time.RFC3339),
		"rules":       len(list),
		"transitions": len(events),
		"duration_ms": took.Milliseconds(),
	}).Debug("Evaluation tick completed")

	return events, errors.Join(errs...)
}
