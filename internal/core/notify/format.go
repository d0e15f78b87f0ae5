package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
)

// Message is the human readable rendering of a transition.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format renders the title "<NEW_STATE>: <rule id>" and a body describing
// the rule that changed state.
func Format(event alarm.NotificationEvent) Message {
	rule := event.Rule

	device := "None"
	if len(rule.Metric.Dimensions) > 0 {
		parts := make([]string, 0, len(rule.Metric.Dimensions))
		for _, d := range rule.Metric.Dimensions {
			parts = append(parts, fmt.Sprintf("%s (%s)", d.Value, d.Name))
		}
		device = strings.Join(parts, ", ")
	}

	metric := rule.Metric.MetricName
	if metric == "" {
		metric = "Unknown"
	}

	lines := []string{
		fmt.Sprintf("State:     %s -> %s", event.PreviousStatus, event.NewStatus),
		fmt.Sprintf("Time:      %s", event.Timestamp.Format(time.RFC3339)),
		fmt.Sprintf("Reason:    %s", event.Reason),
	}
	if event.TriggeringValue != nil {
		lines = append(lines, fmt.Sprintf("Value:     %g", *event.TriggeringValue))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("Metric:    %s", metric),
		fmt.Sprintf("Device:    %s", device),
		fmt.Sprintf("Condition: %s", rule.Condition()),
		fmt.Sprintf("Period:    %s (%d/%d datapoints)", formatPeriod(rule.Period), rule.DatapointsToAlarm, rule.EvaluationPeriods),
		fmt.Sprintf("Missing:   treated as %s", strings.ToLower(string(rule.MissingData))),
	)

	return Message{
		Title: fmt.Sprintf("%s: %s", event.NewStatus, event.RuleID),
		Body:  strings.Join(lines, "\n"),
	}
}

func formatPeriod(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs >= 3600:
		return fmt.Sprintf("%dh", secs/3600)
	case secs >= 60:
		return fmt.Sprintf("%dm", secs/60)
	}
	return fmt.Sprintf("%ds", secs)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
