package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
)

// Value is a report reading that may arrive as a number or a boolean.
type Value float64

// UnmarshalJSON accepts numbers, booleans and numeric strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*v = 1
		return nil
	case "false", "null":
		*v = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid reading %q", s)
		}
		*v = Value(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid reading %s", data)
	}
	*v = Value(f)
	return nil
}

// MeterReading is one thermo-hygrometer entry of a device report.
type MeterReading struct {
	Valid           Value  `json:"Valid"`
	Datetime        string `json:"Datetime,omitempty"`
	Temperature     *Value `json:"Temperature,omitempty"`
	Humidity        *Value `json:"Humidity,omitempty"`
	BatteryVoltage  *Value `json:"BatteryVoltage,omitempty"`
	TemperatureDiff *Value `json:"TemperatureDiff,omitempty"`
}

// PlugReading is one smart plug entry of a device report.
type PlugReading struct {
	Valid    Value  `json:"Valid"`
	Datetime string `json:"Datetime,omitempty"`
	Switch   *Value `json:"Switch,omitempty"`
	Power    *Value `json:"Power,omitempty"`
}

// DeviceReport is the periodic summary pushed by the home gateway.
type DeviceReport struct {
	ShouldHeartbeat *Value `json:"should_heartbeat"`
	CoolerFrozen    *Value `json:"cooler_frozen,omitempty"`
	Meters          struct {
		V0 map[string]MeterReading `json:"v0"`
	} `json:"meters"`
	Plugs struct {
		V0 map[string]PlugReading `json:"v0"`
	} `json:"plugs"`
}

// ParseReport decodes a device report.
func ParseReport(r io.Reader) (*DeviceReport, error) {
	var report DeviceReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode device report: %w", err)
	}
	if report.ShouldHeartbeat == nil {
		return nil, fmt.Errorf("device report is missing should_heartbeat")
	}
	return &report, nil
}

// batteryHours are the hours at which battery levels are published.
var batteryHours = map[int]bool{0: true, 6: true, 12: true, 18: true}

const batteryMinuteLimit = 15

// reportTimeLayouts lists accepted Datetime layouts. Zone-less values are
// read in the decoder's location.
var reportTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Decoder turns device reports into metric points.
type Decoder struct {
	Namespace string
	Location  *time.Location
	Now       func() time.Time
}

// NewDecoder returns a decoder for namespace reading zone-less times in loc.
func NewDecoder(namespace string, loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	return &Decoder{Namespace: namespace, Location: loc, Now: time.Now}
}

// Points converts report into metric points. Invalid devices only publish
// Valid=0. Battery is published during the first quarter hour of 0, 6, 12
// and 18 o'clock.
func (d *Decoder) Points(report *DeviceReport) ([]stream.MetricPoint, error) {
	if report.ShouldHeartbeat == nil {
		return nil, fmt.Errorf("device report is missing should_heartbeat")
	}
	now := d.Now().In(d.Location)

	points := []stream.MetricPoint{d.point(rules.MetricHeartbeat, "", "", float64(*report.ShouldHeartbeat), now)}
	if report.CoolerFrozen != nil {
		points = append(points, d.point(rules.MetricCoolerFrozen, "", "", float64(*report.CoolerFrozen), now))
	}

	for _, alias := range sortedKeys(report.Meters.V0) {
		data := report.Meters.V0[alias]
		ts, err := d.timestamp(data.Datetime, now)
		if err != nil {
			return nil, fmt.Errorf("meter %q: %w", alias, err)
		}
		points = append(points, d.point(rules.MetricValid, rules.DimensionMeter, alias, float64(data.Valid), ts))
		if data.Valid == 0 {
			continue
		}
		if data.BatteryVoltage != nil && batteryHours[ts.Hour()] && ts.Minute() < batteryMinuteLimit {
			points = append(points, d.point(rules.MetricBattery, rules.DimensionMeter, alias, float64(*data.BatteryVoltage), ts))
		}
		if data.Humidity != nil {
			points = append(points, d.point(rules.MetricHumidity, rules.DimensionMeter, alias, float64(*data.Humidity), ts))
		}
		if data.Temperature != nil {
			points = append(points, d.point(rules.MetricTemperature, rules.DimensionMeter, alias, float64(*data.Temperature), ts))
		}
		if data.TemperatureDiff != nil {
			points = append(points, d.point(rules.MetricTemperatureDiff, rules.DimensionMeter, alias, float64(*data.TemperatureDiff), ts))
		}
	}

	for _, alias := range sortedKeys(report.Plugs.V0) {
		data := report.Plugs.V0[alias]
		ts, err := d.timestamp(data.Datetime, now)
		if err != nil {
			return nil, fmt.Errorf("plug %q: %w", alias, err)
		}
		points = append(points, d.point(rules.MetricValid, rules.DimensionPlug, alias, float64(data.Valid), ts))
		if data.Valid == 0 {
			continue
		}
		if data.Switch != nil {
			points = append(points, d.point(rules.MetricSwitch, rules.DimensionPlug, alias, float64(*data.Switch), ts))
		}
		if data.Power != nil {
			points = append(points, d.point(rules.MetricPower, rules.DimensionPlug, alias, float64(*data.Power), ts))
		}
	}
	return points, nil
}

func (d *Decoder) point(metric, dimension, value string, v float64, ts time.Time) stream.MetricPoint {
	p := stream.MetricPoint{
		Namespace:  d.Namespace,
		MetricName: metric,
		Value:      v,
		Timestamp:  ts,
	}
	if dimension != "" {
		p.Dimensions = stream.NewDimensions(map[string]string{dimension: value})
	}
	return p
}

func (d *Decoder) timestamp(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	for i, layout := range reportTimeLayouts {
		var (
			ts  time.Time
			err error
		)
		if i == 0 {
			ts, err = time.Parse(layout, raw)
		} else {
			ts, err = time.ParseInLocation(layout, raw, d.Location)
		}
		if err == nil {
			return ts.In(d.Location), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid Datetime %q", raw)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
