package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
)

// Comparison decides whether a period's statistic breaches the threshold.
type Comparison string

const (
	GreaterOrEqual Comparison = "GREATER_OR_EQUAL"
	LessOrEqual    Comparison = "LESS_OR_EQUAL"
)

// Breaches applies the comparison to value against threshold.
func (c Comparison) Breaches(value, threshold float64) bool {
	switch c {
	case GreaterOrEqual:
		return value >= threshold
	case LessOrEqual:
		return value <= threshold
	}
	return false
}

// Symbol returns the operator as written in alarm messages.
func (c Comparison) Symbol() string {
	switch c {
	case GreaterOrEqual:
		return ">="
	case LessOrEqual:
		return "<="
	}
	return string(c)
}

// UnmarshalText accepts the canonical names and the CloudWatch operator names.
func (c *Comparison) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "GREATER_OR_EQUAL", "GREATERTHANOREQUALTOTHRESHOLD", ">=":
		*c = GreaterOrEqual
	case "LESS_OR_EQUAL", "LESSTHANOREQUALTOTHRESHOLD", "<=":
		*c = LessOrEqual
	default:
		return fmt.Errorf("unknown comparison %q", string(text))
	}
	return nil
}

// MissingDataPolicy says how a period without datapoints is treated.
type MissingDataPolicy string

const (
	// MissingBreaching counts an empty period as a breach.
	MissingBreaching MissingDataPolicy = "BREACHING"
	// MissingIgnore skips an empty period entirely.
	MissingIgnore MissingDataPolicy = "IGNORE"
)

func (p *MissingDataPolicy) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "BREACHING":
		*p = MissingBreaching
	case "IGNORE":
		*p = MissingIgnore
	default:
		return fmt.Errorf("unknown missing data policy %q", string(text))
	}
	return nil
}

// Severity drives which channels receive a rule's transitions.
type Severity string

const (
	SeverityHigh Severity = "HIGH"
	SeverityLow  Severity = "LOW"
)

func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "HIGH":
		*s = SeverityHigh
	case "LOW":
		*s = SeverityLow
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// AlarmRule is one threshold policy bound to a metric selector. Rules are
// built once at startup and never mutated.
type AlarmRule struct {
	ID                string            `json:"id" yaml:"id"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	Metric            stream.Selector   `json:"metric" yaml:"metric"`
	Period            time.Duration     `json:"period" yaml:"period"`
	Statistic         stream.Statistic  `json:"statistic" yaml:"statistic"`
	Comparison        Comparison        `json:"comparison" yaml:"comparison"`
	Threshold         float64           `json:"threshold" yaml:"threshold"`
	EvaluationPeriods int               `json:"evaluation_periods" yaml:"evaluation_periods"`
	DatapointsToAlarm int               `json:"datapoints_to_alarm" yaml:"datapoints_to_alarm"`
	MissingData       MissingDataPolicy `json:"missing_data" yaml:"missing_data"`
	Severity          Severity          `json:"severity" yaml:"severity"`
	// Action is the actuation id fired by the remediation channel.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
}

// Breaches reports whether value breaches the rule's threshold.
func (r AlarmRule) Breaches(value float64) bool {
	return r.Comparison.Breaches(value, r.Threshold)
}

// Window is the span of history the rule looks at.
func (r AlarmRule) Window() time.Duration {
	return time.Duration(r.EvaluationPeriods) * r.Period
}

// Condition renders the rule as "MIN >= 26".
func (r AlarmRule) Condition() string {
	return fmt.Sprintf("%s %s %g", r.Statistic, r.Comparison.Symbol(), r.Threshold)
}

// Validate checks the rule invariants and returns every violation.
func (r AlarmRule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, apperrors.InvalidRule("", "id is required"))
	}
	if r.Metric.Namespace == "" || r.Metric.MetricName == "" {
		errs = append(errs, apperrors.InvalidRule(r.ID, "metric namespace and name are required"))
	}
	if r.Period <= 0 {
		errs = append(errs, apperrors.InvalidRule(r.ID, "period must be positive, got %s", r.Period))
	}
	if !r.Statistic.Valid() {
		errs = append(errs, apperrors.InvalidRule(r.ID, "unsupported statistic %q", r.Statistic))
	}
	if r.Comparison != GreaterOrEqual && r.Comparison != LessOrEqual {
		errs = append(errs, apperrors.InvalidRule(r.ID, "unsupported comparison %q", r.Comparison))
	}
	if r.EvaluationPeriods < 1 {
		errs = append(errs, apperrors.InvalidRule(r.ID, "evaluation_periods must be at least 1, got %d", r.EvaluationPeriods))
	}
	if r.DatapointsToAlarm < 1 || r.DatapointsToAlarm > r.EvaluationPeriods {
		errs = append(errs, apperrors.InvalidRule(r.ID, "datapoints_to_alarm must be within 1..%d, got %d", r.EvaluationPeriods, r.DatapointsToAlarm))
	}
	if r.MissingData != MissingBreaching && r.MissingData != MissingIgnore {
		errs = append(errs, apperrors.InvalidRule(r.ID, "unsupported missing data policy %q", r.MissingData))
	}
	if r.Severity != SeverityHigh && r.Severity != SeverityLow {
		errs = append(errs, apperrors.InvalidRule(r.ID, "unsupported severity %q", r.Severity))
	}
	return errors.Join(errs...)
}
