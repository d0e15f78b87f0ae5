package stream

import (
	"fmt"
	"strings"
)

// Statistic is the reduction applied to the points of one period.
type Statistic string

const (
	StatisticMinimum Statistic = "MIN"
	StatisticMaximum Statistic = "MAX"
	StatisticAverage Statistic = "AVERAGE"
)

// ParseStatistic accepts the canonical names plus the long forms used by
// CloudWatch-style configs (Minimum, Maximum, Average, avg).
func ParseStatistic(s string) (Statistic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MIN", "MINIMUM":
		return StatisticMinimum, nil
	case "MAX", "MAXIMUM":
		return StatisticMaximum, nil
	case "AVERAGE", "AVG", "MEAN":
		return StatisticAverage, nil
	}
	return "", fmt.Errorf("unknown statistic %q", s)
}

// Valid reports whether s is one of the supported statistics.
func (s Statistic) Valid() bool {
	switch s {
	case StatisticMinimum, StatisticMaximum, StatisticAverage:
		return true
	}
	return false
}

// UnmarshalText lets config decoders accept the long forms too.
func (s *Statistic) UnmarshalText(text []byte) error {
	parsed, err := ParseStatistic(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Reduce applies stat to values. ok is false when values is empty.
func Reduce(stat Statistic, values []float64) (result float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	switch stat {
	case StatisticMinimum:
		result = values[0]
		for _, v := range values[1:] {
			if v < result {
				result = v
			}
		}
	case StatisticMaximum:
		result = values[0]
		for _, v := range values[1:] {
			if v > result {
				result = v
			}
		}
	case StatisticAverage:
		var sum float64
		for _, v := range values {
			sum += v
		}
		result = sum / float64(len(values))
	default:
		return 0, false
	}
	return result, true
}
