package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule(id string) AlarmRule {
	return AlarmRule{
		ID:                id,
		Metric:            stream.Selector{Namespace: "NHomeZero", MetricName: "Temperature"},
		Period:            2 * time.Minute,
		Statistic:         stream.StatisticMaximum,
		Comparison:        GreaterOrEqual,
		Threshold:         26,
		EvaluationPeriods: 3,
		DatapointsToAlarm: 2,
		MissingData:       MissingIgnore,
		Severity:          SeverityHigh,
	}
}

func TestComparison_Breaches(t *testing.T) {
	assert.True(t, GreaterOrEqual.Breaches(26, 26))
	assert.True(t, GreaterOrEqual.Breaches(27, 26))
	assert.False(t, GreaterOrEqual.Breaches(25.9, 26))
	assert.True(t, LessOrEqual.Breaches(0, 0))
	assert.False(t, LessOrEqual.Breaches(0.1, 0))
}

func TestAlarmRule_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AlarmRule)
	}{
		{"zero period", func(r *AlarmRule) { r.Period = 0 }},
		{"negative period", func(r *AlarmRule) { r.Period = -time.Minute }},
		{"datapoints above periods", func(r *AlarmRule) { r.DatapointsToAlarm = 4 }},
		{"zero datapoints", func(r *AlarmRule) { r.DatapointsToAlarm = 0 }},
		{"missing id", func(r *AlarmRule) { r.ID = "" }},
		{"missing metric", func(r *AlarmRule) { r.Metric.MetricName = "" }},
		{"bad statistic", func(r *AlarmRule) { r.Statistic = "P99" }},
		{"bad severity", func(r *AlarmRule) { r.Severity = "MEDIUM" }},
	}

	require.NoError(t, validRule("ok").Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule("r1")
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidRuleConfiguration))
		})
	}
}

func TestNewRegistry_ReportsEveryViolation(t *testing.T) {
	bad1 := validRule("bad1")
	bad1.Period = 0
	bad2 := validRule("bad2")
	bad2.DatapointsToAlarm = 10

	_, err := NewRegistry([]AlarmRule{validRule("good"), bad1, bad2, validRule("good")})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "bad1")
	assert.Contains(t, msg, "bad2")
	assert.Contains(t, msg, "duplicate rule id")
}

func TestRegistry_Lookup(t *testing.T) {
	slow := validRule("slow")
	slow.Period = time.Hour
	slow.EvaluationPeriods = 24
	slow.DatapointsToAlarm = 1

	reg, err := NewRegistry([]AlarmRule{validRule("a"), slow, validRule("b")})
	require.NoError(t, err)

	ids := []string{}
	for _, r := range reg.AllRules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "slow", "b"}, ids)

	r, ok := reg.Rule("slow")
	require.True(t, ok)
	assert.Equal(t, time.Hour, r.Period)

	_, ok = reg.Rule("missing")
	assert.False(t, ok)

	assert.Equal(t, []time.Duration{2 * time.Minute, time.Hour}, reg.Periods())
	assert.Len(t, reg.RulesForPeriod(2*time.Minute), 2)
	assert.Equal(t, 24*time.Hour, reg.Retention())
}

func TestRegistry_AllRulesReturnsCopy(t *testing.T) {
	reg, err := NewRegistry([]AlarmRule{validRule("a")})
	require.NoError(t, err)

	list := reg.AllRules()
	list[0].Threshold = 99

	r, _ := reg.Rule("a")
	assert.Equal(t, 26.0, r.Threshold)
}

func TestDefaultCatalogue(t *testing.T) {
	list := DefaultCatalogue(DefaultCatalogueOptions())
	reg, err := NewRegistry(list)
	require.NoError(t, err)
	assert.Equal(t, 18, reg.Len())

	hb, ok := reg.Rule("NHomeHeartbeatMissingAlarm")
	require.True(t, ok)
	assert.Equal(t, MissingBreaching, hb.MissingData)
	assert.Equal(t, 15*time.Minute, hb.Period)

	high, ok := reg.Rule("N.Meter1TemperatureHighAlarm")
	require.True(t, ok)
	assert.Equal(t, stream.StatisticMinimum, high.Statistic)
	assert.Equal(t, "MIN >= 26", high.Condition())
	assert.Equal(t, "N. Meter 1", high.Metric.Dimensions.Map()[DimensionMeter])

	tooHot, ok := reg.Rule("N.Meter2TemperatureHighDiffAlarm")
	require.True(t, ok)
	assert.Equal(t, -3.0, tooHot.Threshold)

	low, ok := reg.Rule("NPiInvalidLowSev")
	require.True(t, ok)
	assert.Equal(t, SeverityLow, low.Severity)
	assert.Equal(t, "pi-plug-on", low.Action)

	assert.Equal(t, []time.Duration{2 * time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour}, reg.Periods())
	assert.Equal(t, 24*time.Hour, reg.Retention())
}

const rulesYAML = `
namespace: NHomeZero
rules:
  - id: LabTemperatureHigh
    metric: Temperature
    dimensions:
      Meter: Lab
    period: 2m
    statistic: Maximum
    comparison: GreaterThanOrEqualToThreshold
    threshold: 26
    evaluation_periods: 30
    datapoints_to_alarm: 30
    missing_data: ignore
    severity: high
  - id: PiOffline
    namespace: Other
    metric: Switch
    dimensions:
      Plug: N.Pi
    period: 5m
    statistic: MAX
    comparison: LESS_OR_EQUAL
    threshold: 0
    evaluation_periods: 1
    datapoints_to_alarm: 1
    missing_data: BREACHING
    severity: LOW
    action: pi-plug-on
`

func TestDecode(t *testing.T) {
	list, err := Decode(strings.NewReader(rulesYAML))
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0]
	assert.Equal(t, "NHomeZero", first.Metric.Namespace)
	assert.Equal(t, 2*time.Minute, first.Period)
	assert.Equal(t, stream.StatisticMaximum, first.Statistic)
	assert.Equal(t, GreaterOrEqual, first.Comparison)
	assert.Equal(t, MissingIgnore, first.MissingData)
	assert.Equal(t, SeverityHigh, first.Severity)

	second := list[1]
	assert.Equal(t, "Other", second.Metric.Namespace)
	assert.Equal(t, "pi-plug-on", second.Action)
	assert.Equal(t, SeverityLow, second.Severity)

	_, err = NewRegistry(list)
	assert.NoError(t, err)
}

func TestDecode_RejectsUnknownValues(t *testing.T) {
	_, err := Decode(strings.NewReader("rules:\n  - id: x\n    statistic: p50\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("rules:\n  - id: x\n    colour: red\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	list, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
