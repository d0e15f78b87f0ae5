package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"gopkg.in/yaml.v3"
)

// ruleDoc is the on-disk form of a rule. Dimensions are written as a map.
type ruleDoc struct {
	ID                string            `yaml:"id"`
	Description       string            `yaml:"description"`
	Namespace         string            `yaml:"namespace"`
	Metric            string            `yaml:"metric"`
	Dimensions        map[string]string `yaml:"dimensions"`
	Period            time.Duration     `yaml:"period"`
	Statistic         stream.Statistic  `yaml:"statistic"`
	Comparison        Comparison        `yaml:"comparison"`
	Threshold         float64           `yaml:"threshold"`
	EvaluationPeriods int               `yaml:"evaluation_periods"`
	DatapointsToAlarm int               `yaml:"datapoints_to_alarm"`
	MissingData       MissingDataPolicy `yaml:"missing_data"`
	Severity          Severity          `yaml:"severity"`
	Action            string            `yaml:"action"`
}

type rulesFile struct {
	Namespace string    `yaml:"namespace"`
	Rules     []ruleDoc `yaml:"rules"`
}

// LoadFile reads a YAML rules file. Validation happens in NewRegistry.
func LoadFile(path string) ([]AlarmRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	list, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return list, nil
}

// Decode parses a rules document. A top-level namespace applies to every
// rule that does not set its own.
func Decode(r io.Reader) ([]AlarmRule, error) {
	var doc rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	list := make([]AlarmRule, 0, len(doc.Rules))
	for _, d := range doc.Rules {
		ns := d.Namespace
		if ns == "" {
			ns = doc.Namespace
		}
		rule := AlarmRule{
			ID:          d.ID,
			Description: d.Description,
			Metric: stream.Selector{
				Namespace:  ns,
				MetricName: d.Metric,
			},
			Period:            d.Period,
			Statistic:         d.Statistic,
			Comparison:        d.Comparison,
			Threshold:         d.Threshold,
			EvaluationPeriods: d.EvaluationPeriods,
			DatapointsToAlarm: d.DatapointsToAlarm,
			MissingData:       d.MissingData,
			Severity:          d.Severity,
			Action:            d.Action,
		}
		if len(d.Dimensions) > 0 {
			rule.Metric.Dimensions = stream.NewDimensions(d.Dimensions)
		}
		list = append(list, rule)
	}
	return list, nil
}
