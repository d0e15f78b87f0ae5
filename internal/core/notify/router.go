package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Well-known channel ids used by the default binding table.
const (
	ChannelPager       = "pager"
	ChannelAlerts      = "alerts"
	ChannelRecovery    = "recovery"
	ChannelRemediation = "remediation"
)

// BindingKey selects a row of the binding table.
type BindingKey struct {
	Severity  rules.Severity
	Direction alarm.Direction
}

// BindingTable maps (severity, direction) to channel ids.
type BindingTable map[BindingKey][]string

// DefaultBindings pages and raw-alerts on HIGH breaches, emails HIGH
// recoveries and sends LOW breaches to remediation only.
func DefaultBindings() BindingTable {
	return BindingTable{
		{rules.SeverityHigh, alarm.DirectionEntering}:   {ChannelPager, ChannelAlerts},
		{rules.SeverityHigh, alarm.DirectionRecovering}: {ChannelRecovery},
		{rules.SeverityLow, alarm.DirectionEntering}:    {ChannelRemediation},
	}
}

// Channels returns the channel ids bound to severity and direction.
func (t BindingTable) Channels(severity rules.Severity, direction alarm.Direction) []string {
	if direction == alarm.DirectionNone {
		return nil
	}
	return t[BindingKey{Severity: severity, Direction: direction}]
}

// Set replaces the channels of one row.
func (t BindingTable) Set(severity rules.Severity, direction alarm.Direction, channels ...string) {
	t[BindingKey{Severity: severity, Direction: direction}] = channels
}

// DispatchObserver is told about dispatch outcomes, typically for metrics.
type DispatchObserver interface {
	Dispatched(channel string, err error)
	Dropped(channel string)
	QueueDepth(channel string, depth int)
}

type nopDispatchObserver struct{}

func (nopDispatchObserver) Dispatched(string, error) {}
func (nopDispatchObserver) Dropped(string)           {}
func (nopDispatchObserver) QueueDepth(string, int)   {}

// RouterConfig contains router configuration
type RouterConfig struct {
	QueueCapacity  int
	SendTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	DedupSize      int
}

type outbound struct {
	channel  Channel
	queue    *outboundQueue
	backoff  *backoff.ExponentialBackOff
	failures int
}

// pace returns how long to wait before the next send after failures.
func (o *outbound) pace() time.Duration {
	if o.failures == 0 {
		return 0
	}
	d := o.backoff.NextBackOff()
	if d == backoff.Stop {
		return o.backoff.MaxInterval
	}
	return d
}

// Router classifies transitions and hands them to per-channel queues. Each
// channel has its own worker so a slow channel never delays another.
type Router struct {
	config   RouterConfig
	bindings BindingTable
	channels map[string]*outbound
	sink     ErrorSink
	observer DispatchObserver
	logger   *logrus.Logger
	dedup    *dedupCache

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewRouter creates a router over channels. sink and observer may be nil.
func NewRouter(config RouterConfig, bindings BindingTable, channels []Channel, sink ErrorSink, observer DispatchObserver, logger *logrus.Logger) *Router {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 64
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 2 * time.Minute
	}
	if config.DedupSize <= 0 {
		config.DedupSize = 1024
	}
	if bindings == nil {
		bindings = DefaultBindings()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	if observer == nil {
		observer = nopDispatchObserver{}
	}

	r := &Router{
		config:   config,
		bindings: bindings,
		channels: make(map[string]*outbound, len(channels)),
		sink:     sink,
		observer: observer,
		logger:   logger,
		dedup:    newDedupCache(config.DedupSize),
		stop:     make(chan struct{}),
	}
	for _, ch := range channels {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = config.BackoffInitial
		b.MaxInterval = config.BackoffMax
		b.MaxElapsedTime = 0
		b.Reset()
		r.channels[ch.Name()] = &outbound{
			channel: ch,
			queue:   newOutboundQueue(config.QueueCapacity),
			backoff: b,
		}
	}
	return r
}

// Start launches one worker per channel.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("router is already running")
	}
	for _, ob := range r.channels {
		r.wg.Add(1)
		go r.worker(ob)
	}
	r.running = true
	r.logger.WithField("channels", r.Channels()).Info("Notification router started")
	return nil
}

// Stop signals the workers to flush their queues and waits until ctx expires.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("router is not running")
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Notification router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Timeout waiting for notification queues to flush")
		return ctx.Err()
	}
}

// Channels returns the registered channel ids.
func (r *Router) Channels() []string {
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// QueueDepths returns the pending notifications per channel.
func (r *Router) QueueDepths() map[string]int {
	out := make(map[string]int, len(r.channels))
	for name, ob := range r.channels {
		out[name] = ob.queue.len()
	}
	return out
}

// Publish routes event through the configured binding table.
func (r *Router) Publish(event alarm.NotificationEvent) {
	r.Dispatch(event, r.bindings)
}

// Dispatch enqueues event on every channel bound to its severity and
// direction and returns how many channels accepted it. It never blocks.
func (r *Router) Dispatch(event alarm.NotificationEvent, bindings BindingTable) int {
	direction := event.Direction()
	log := r.logger.WithFields(logrus.Fields{
		"rule_id":         event.RuleID,
		"previous_status": event.PreviousStatus,
		"new_status":      event.NewStatus,
		"timestamp":       event.Timestamp.Format(time.RFC3339),
	})

	if direction == alarm.DirectionNone {
		log.Debug("Transition is silent, nothing to dispatch")
		return 0
	}
	if !r.dedup.add(event.DedupKey()) {
		log.Debug("Duplicate transition ignored")
		return 0
	}

	enqueued := 0
	for _, name := range bindings.Channels(event.Severity, direction) {
		ob, ok := r.channels[name]
		if !ok {
			r.report(apperrors.DispatchFailure(event.RuleID, name, fmt.Errorf("channel is not configured")), event)
			continue
		}
		if dropped, full := ob.queue.push(event); full {
			r.observer.Dropped(name)
			r.report(apperrors.DispatchFailure(dropped.RuleID, name, fmt.Errorf("outbound queue full, dropped oldest notification")), dropped)
		}
		r.observer.QueueDepth(name, ob.queue.len())
		enqueued++
	}
	log.WithFields(logrus.Fields{
		"direction": direction,
		"channels":  enqueued,
	}).Debug("Transition dispatched")
	return enqueued
}

func (r *Router) report(err *apperrors.AlarmError, event alarm.NotificationEvent) {
	r.sink.Report(err, event)
}

func (r *Router) worker(ob *outbound) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			r.flush(ob)
			return
		case <-ob.queue.ready:
		}

		for {
			event, ok := ob.queue.pop()
			if !ok {
				break
			}
			if wait := ob.pace(); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-r.stop:
					timer.Stop()
					r.send(ob, event)
					r.flush(ob)
					return
				}
			}
			r.send(ob, event)
		}
	}
}

// flush sends whatever is still queued, without pacing.
func (r *Router) flush(ob *outbound) {
	for {
		event, ok := ob.queue.pop()
		if !ok {
			return
		}
		r.send(ob, event)
	}
}

func (r *Router) send(ob *outbound, event alarm.NotificationEvent) {
	name := ob.channel.Name()
	ctx, cancel := context.WithTimeout(context.Background(), r.config.SendTimeout)
	defer cancel()

	err := ob.channel.Send(ctx, event)
	r.observer.Dispatched(name, err)
	r.observer.QueueDepth(name, ob.queue.len())
	if err != nil {
		ob.failures++
		r.report(apperrors.DispatchFailure(event.RuleID, name, err), event)
		return
	}
	if ob.failures > 0 {
		ob.failures = 0
		ob.backoff.Reset()
	}
	r.logger.WithFields(logrus.Fields{
		"rule_id":    event.RuleID,
		"channel":    name,
		"new_status": event.NewStatus,
	}).Info("Notification delivered")
}

// dedupCache remembers the most recent keys in insertion order.
type dedupCache struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

func newDedupCache(size int) *dedupCache {
	return &dedupCache{
		seen:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// add records key and reports whether it was new.
func (c *dedupCache) add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	if old := c.order[c.next]; old != "" {
		delete(c.seen, old)
	}
	c.order[c.next] = key
	c.next = (c.next + 1) % len(c.order)
	c.seen[key] = struct{}{}
	return true
}
