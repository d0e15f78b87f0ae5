package handlers

import (
	"context"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/ingest"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/frostdev-ops/pma-alerting-go/internal/database/repositories"
	"github.com/frostdev-ops/pma-alerting-go/internal/discovery"
	"github.com/frostdev-ops/pma-alerting-go/internal/websocket"
	"github.com/sirupsen/logrus"
)

// AlarmStore exposes evaluator state.
type AlarmStore interface {
	Snapshot(ruleID string) (alarm.Snapshot, bool)
	Snapshots() []alarm.Snapshot
	Reset(ruleID string) bool
}

// Ingestor records pushed datapoints.
type Ingestor interface {
	RecordBatch(source string, points []stream.MetricPoint) (int, error)
}

// SeriesReader lists the newest point of every series in the window.
type SeriesReader interface {
	Latest() []stream.MetricPoint
}

// ActionTrigger runs remediation actions on demand.
type ActionTrigger interface {
	Actions() []string
	Trigger(ctx context.Context, actionID string) error
}

// PeerBrowser lists other alerting instances on the network.
type PeerBrowser interface {
	Browse(ctx context.Context) ([]discovery.Peer, error)
}

// Dependencies wires the handlers. Series, Journal, Actions, Peers and Hub
// are optional.
type Dependencies struct {
	Rules    *rules.Registry
	Alarms   AlarmStore
	Ingestor Ingestor
	Series   SeriesReader
	Decoder  *ingest.Decoder
	Journal  repositories.JournalRepository
	Health   *metrics.HealthChecker
	Hub      *websocket.Hub
	Actions  ActionTrigger
	Peers    PeerBrowser
	Logger   *logrus.Logger
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	rules    *rules.Registry
	alarms   AlarmStore
	ingestor Ingestor
	series   SeriesReader
	decoder  *ingest.Decoder
	journal  repositories.JournalRepository
	health   *metrics.HealthChecker
	hub      *websocket.Hub
	actions  ActionTrigger
	peers    PeerBrowser
	log      *logrus.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		rules:    deps.Rules,
		alarms:   deps.Alarms,
		ingestor: deps.Ingestor,
		series:   deps.Series,
		decoder:  deps.Decoder,
		journal:  deps.Journal,
		health:   deps.Health,
		hub:      deps.Hub,
		actions:  deps.Actions,
		peers:    deps.Peers,
		log:      deps.Logger,
	}
}
