package switchbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/sirupsen/logrus"
)

// PointRecorder accepts polled points.
type PointRecorder interface {
	Record(source string, p stream.MetricPoint) error
}

// Plug is a polled plug. A fixed DeviceID skips the name lookup.
type Plug struct {
	Name     string `mapstructure:"name"`
	DeviceID string `mapstructure:"device_id"`
}

// Dimension returns the Plug dimension value, the device name without spaces.
func (p Plug) Dimension() string {
	return strings.ReplaceAll(p.Name, " ", "")
}

// Poller records the online status of smart plugs.
type Poller struct {
	client    *Client
	recorder  PointRecorder
	namespace string
	plugs     []Plug
	timeout   time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewPoller creates a poller recording into recorder under namespace.
func NewPoller(client *Client, recorder PointRecorder, namespace string, plugs []Plug, logger *logrus.Logger) *Poller {
	return &Poller{
		client:    client,
		recorder:  recorder,
		namespace: namespace,
		plugs:     plugs,
		timeout:   30 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
}

// Run polls once with the poller's own timeout. It is the cron job body.
func (p *Poller) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Poll(ctx); err != nil {
		p.logger.WithError(err).Warn("Plug status poll incomplete")
	}
}

// Poll records Valid, Switch and Power for each plug. A plug whose status
// cannot be read records Valid=0 only. Power is the electric current while
// the plug is on and 0 otherwise.
func (p *Poller) Poll(ctx context.Context) error {
	var errs []error
	for _, plug := range p.plugs {
		status, err := p.status(ctx, plug)
		ts := p.now()
		if err != nil {
			errs = append(errs, fmt.Errorf("plug %q: %w", plug.Name, err))
			p.record(plug, rules.MetricValid, 0, ts)
			continue
		}

		power := 0.0
		switchValue := 0.0
		if status.On() {
			switchValue = 1
			power = status.ElectricCurrent
		}
		p.record(plug, rules.MetricValid, 1, ts)
		p.record(plug, rules.MetricSwitch, switchValue, ts)
		p.record(plug, rules.MetricPower, power, ts)

		p.logger.WithFields(logrus.Fields{
			"plug":    plug.Name,
			"power":   status.Power,
			"current": status.ElectricCurrent,
		}).Debug("Polled plug status")
	}
	return errors.Join(errs...)
}

func (p *Poller) status(ctx context.Context, plug Plug) (*PlugStatus, error) {
	if plug.DeviceID != "" {
		return p.client.PlugStatus(ctx, plug.DeviceID)
	}
	var status *PlugStatus
	err := p.client.WithDevice(ctx, plug.Name, func(ctx context.Context, deviceID string) error {
		s, err := p.client.PlugStatus(ctx, deviceID)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	return status, err
}

func (p *Poller) record(plug Plug, metric string, value float64, ts time.Time) {
	point := stream.MetricPoint{
		Namespace:  p.namespace,
		MetricName: metric,
		Dimensions: stream.NewDimensions(map[string]string{rules.DimensionPlug: plug.Dimension()}),
		Value:      value,
		Timestamp:  ts,
	}
	_ = p.recorder.Record("switchbot", point)
}
