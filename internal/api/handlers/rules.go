package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/frostdev-ops/pma-alerting-go/internal/websocket"
	"github.com/frostdev-ops/pma-alerting-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

type ruleView struct {
	ID                string                  `json:"id"`
	Description       string                  `json:"description,omitempty"`
	Metric            stream.Selector         `json:"metric"`
	Period            string                  `json:"period"`
	Statistic         stream.Statistic        `json:"statistic"`
	Comparison        rules.Comparison        `json:"comparison"`
	Threshold         float64                 `json:"threshold"`
	Condition         string                  `json:"condition"`
	EvaluationPeriods int                     `json:"evaluation_periods"`
	DatapointsToAlarm int                     `json:"datapoints_to_alarm"`
	MissingData       rules.MissingDataPolicy `json:"missing_data"`
	Severity          rules.Severity          `json:"severity"`
	Action            string                  `json:"action,omitempty"`
}

func newRuleView(r rules.AlarmRule) ruleView {
	return ruleView{
		ID:                r.ID,
		Description:       r.Description,
		Metric:            r.Metric,
		Period:            r.Period.String(),
		Statistic:         r.Statistic,
		Comparison:        r.Comparison,
		Threshold:         r.Threshold,
		Condition:         r.Condition(),
		EvaluationPeriods: r.EvaluationPeriods,
		DatapointsToAlarm: r.DatapointsToAlarm,
		MissingData:       r.MissingData,
		Severity:          r.Severity,
		Action:            r.Action,
	}
}

type alarmView struct {
	alarm.Snapshot
	Severity  rules.Severity `json:"severity"`
	Condition string         `json:"condition"`
}

func (h *Handlers) alarmFor(r rules.AlarmRule) alarmView {
	snap, ok := h.alarms.Snapshot(r.ID)
	if !ok {
		snap = alarm.Snapshot{
			RuleID:            r.ID,
			Status:            alarm.StatusInsufficientData,
			Window:            []string{},
			EvaluationPeriods: r.EvaluationPeriods,
		}
	}
	return alarmView{Snapshot: snap, Severity: r.Severity, Condition: r.Condition()}
}

// GetRules lists the rule catalogue.
func (h *Handlers) GetRules(c *gin.Context) {
	all := h.rules.AllRules()
	views := make([]ruleView, 0, len(all))
	for _, r := range all {
		if severity := c.Query("severity"); severity != "" && string(r.Severity) != severity {
			continue
		}
		views = append(views, newRuleView(r))
	}
	utils.SendSuccessWithMeta(c, views, gin.H{"count": len(views)})
}

// GetRule returns one rule.
func (h *Handlers) GetRule(c *gin.Context) {
	r, ok := h.rules.Rule(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Rule not found")
		return
	}
	utils.SendSuccess(c, newRuleView(r))
}

// GetAlarms returns the current state of every rule, optionally filtered by
// ?status=.
func (h *Handlers) GetAlarms(c *gin.Context) {
	status := c.Query("status")
	all := h.rules.AllRules()
	views := make([]alarmView, 0, len(all))
	counts := make(map[alarm.Status]int)
	for _, r := range all {
		view := h.alarmFor(r)
		counts[view.Status]++
		if status != "" && string(view.Status) != status {
			continue
		}
		views = append(views, view)
	}
	utils.SendSuccessWithMeta(c, views, gin.H{
		"count":  len(views),
		"totals": counts,
	})
}

// GetAlarm returns the state of one rule.
func (h *Handlers) GetAlarm(c *gin.Context) {
	r, ok := h.rules.Rule(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Rule not found")
		return
	}
	utils.SendSuccess(c, h.alarmFor(r))
}

// ResetAlarm discards a rule's window so it restarts from
// INSUFFICIENT_DATA on the next tick.
func (h *Handlers) ResetAlarm(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.rules.Rule(id); !ok {
		utils.SendError(c, http.StatusNotFound, "Rule not found")
		return
	}

	existed := h.alarms.Reset(id)
	if h.hub != nil {
		h.hub.BroadcastToAll(websocket.MessageTypeAlarmSnapshot, map[string]interface{}{
			"rule_id": id,
			"status":  alarm.StatusInsufficientData,
			"reset":   true,
		})
	}
	h.log.WithField("rule_id", id).Info("Alarm reset via API")

	utils.SendSuccess(c, gin.H{
		"rule_id": id,
		"reset":   existed,
	})
}
