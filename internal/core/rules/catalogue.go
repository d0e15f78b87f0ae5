package rules

import (
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
)

// Metric names published for the monitored home.
const (
	MetricHeartbeat       = "Heartbeat"
	MetricTemperature     = "Temperature"
	MetricTemperatureDiff = "TemperatureDiff"
	MetricHumidity        = "Humidity"
	MetricBattery         = "Battery"
	MetricValid           = "Valid"
	MetricSwitch          = "Switch"
	MetricPower           = "Power"
	MetricCoolerFrozen    = "CoolerFrozen"

	DimensionMeter = "Meter"
	DimensionPlug  = "Plug"
)

// Thresholds shared by the catalogue and the dashboard annotations.
const (
	ThresholdTemperatureHigh   = 26.0
	ThresholdTemperatureLow    = 10.0
	ThresholdTemperatureOffset = 3.0
	ThresholdHumidityLow       = 50.0
	ThresholdBatteryLow        = 5.0
)

// CatalogueOptions names the devices the built-in catalogue watches.
type CatalogueOptions struct {
	Namespace string
	Meters    []string
	PiPlug    string
	FanPlug   string
	// PiAction is the actuation fired when the Pi plug looks offline.
	PiAction string
}

// DefaultCatalogueOptions describes the home the service was written for.
func DefaultCatalogueOptions() CatalogueOptions {
	return CatalogueOptions{
		Namespace: "NHomeZero",
		Meters:    []string{"N. Meter 1", "N. Meter 2"},
		PiPlug:    "N.Pi",
		FanPlug:   "N.Fan",
		PiAction:  "pi-plug-on",
	}
}

// DefaultCatalogue builds the built-in rule set, used when no rules file is
// configured.
func DefaultCatalogue(opts CatalogueOptions) []AlarmRule {
	sel := func(metric, dim, value string) stream.Selector {
		s := stream.Selector{Namespace: opts.Namespace, MetricName: metric}
		if dim != "" {
			s.Dimensions = stream.NewDimensions(map[string]string{dim: value})
		}
		return s
	}

	list := []AlarmRule{{
		ID:                "NHomeHeartbeatMissingAlarm",
		Description:       "Device log puller stopped sending heartbeats",
		Metric:            sel(MetricHeartbeat, "", ""),
		Period:            15 * time.Minute,
		Statistic:         stream.StatisticMaximum,
		Comparison:        LessOrEqual,
		Threshold:         0,
		EvaluationPeriods: 1,
		DatapointsToAlarm: 1,
		MissingData:       MissingBreaching,
		Severity:          SeverityHigh,
	}}

	perMeter := func(suffix, desc, metric string, period time.Duration, stat stream.Statistic, cmp Comparison, threshold float64, n, m int) {
		for _, meter := range opts.Meters {
			list = append(list, AlarmRule{
				ID:                strings.ReplaceAll(meter, " ", "") + suffix,
				Description:       desc + " (" + meter + ")",
				Metric:            sel(metric, DimensionMeter, meter),
				Period:            period,
				Statistic:         stat,
				Comparison:        cmp,
				Threshold:         threshold,
				EvaluationPeriods: n,
				DatapointsToAlarm: m,
				MissingData:       MissingIgnore,
				Severity:          SeverityHigh,
			})
		}
	}

	perMeter("TemperatureHighAlarm", "Temperature stayed high for an hour", MetricTemperature,
		2*time.Minute, stream.StatisticMinimum, GreaterOrEqual, ThresholdTemperatureHigh, 30, 30)
	perMeter("TemperatureLowAlarm", "Temperature stayed low for an hour", MetricTemperature,
		2*time.Minute, stream.StatisticMaximum, LessOrEqual, ThresholdTemperatureLow, 30, 30)
	// TemperatureDiff is desired minus actual: negative means too hot.
	perMeter("TemperatureHighDiffAlarm", "Temperature above target for an hour", MetricTemperatureDiff,
		2*time.Minute, stream.StatisticMaximum, LessOrEqual, -ThresholdTemperatureOffset, 30, 30)
	perMeter("TemperatureLowDiffAlarm", "Temperature below target for an hour", MetricTemperatureDiff,
		2*time.Minute, stream.StatisticMinimum, GreaterOrEqual, ThresholdTemperatureOffset, 30, 30)
	perMeter("HumidityLowAlarm", "Humidity stayed low for an hour", MetricHumidity,
		2*time.Minute, stream.StatisticMaximum, LessOrEqual, ThresholdHumidityLow, 30, 30)
	perMeter("BatteryLowAlarm", "Meter battery low", MetricBattery,
		time.Hour, stream.StatisticMaximum, LessOrEqual, ThresholdBatteryLow, 24, 1)

	plugRule := func(id, desc, metric, plug string, n, m int, sev Severity, action string) AlarmRule {
		return AlarmRule{
			ID:                id,
			Description:       desc,
			Metric:            sel(metric, DimensionPlug, plug),
			Period:            5 * time.Minute,
			Statistic:         stream.StatisticMaximum,
			Comparison:        LessOrEqual,
			Threshold:         0,
			EvaluationPeriods: n,
			DatapointsToAlarm: m,
			MissingData:       MissingBreaching,
			Severity:          sev,
			Action:            action,
		}
	}

	list = append(list,
		plugRule("NPiInvalidHighSev", "Pi plug switched off or unreachable for 15 minutes", MetricSwitch, opts.PiPlug, 3, 3, SeverityHigh, ""),
		plugRule("NFanNotDrawingPower", "Fan plug draws no current", MetricPower, opts.FanPlug, 3, 3, SeverityHigh, ""),
		plugRule("NFanTurnedOff", "Fan plug switched off or unreachable", MetricSwitch, opts.FanPlug, 3, 3, SeverityHigh, ""),
		AlarmRule{
			ID:                "NCoolerFrozenAlarm",
			Description:       "Cooler reports frozen",
			Metric:            sel(MetricCoolerFrozen, "", ""),
			Period:            5 * time.Minute,
			Statistic:         stream.StatisticMaximum,
			Comparison:        GreaterOrEqual,
			Threshold:         1,
			EvaluationPeriods: 1,
			DatapointsToAlarm: 1,
			MissingData:       MissingIgnore,
			Severity:          SeverityHigh,
		},
		plugRule("NPiInvalidLowSev", "Pi plug looks offline, try switching it on", MetricSwitch, opts.PiPlug, 1, 1, SeverityLow, opts.PiAction),
	)
	return list
}
