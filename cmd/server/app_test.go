package main

import (
	"testing"

	"github.com/frostdev-ops/pma-alerting-go/internal/adapters/switchbot"
	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/notify"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingTable_OverridesAnyCase(t *testing.T) {
	table, err := bindingTable([]config.BindingConfig{
		{Severity: "high", Direction: "recovering", Channels: []string{"sms"}},
		{Severity: "Low", Direction: "entering_alarm", Channels: []string{"alerts"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sms"}, table.Channels(rules.SeverityHigh, alarm.DirectionRecovering))
	assert.Equal(t, []string{"alerts"}, table.Channels(rules.SeverityLow, alarm.DirectionEntering))
	assert.Equal(t, notify.DefaultBindings().Channels(rules.SeverityHigh, alarm.DirectionEntering),
		table.Channels(rules.SeverityHigh, alarm.DirectionEntering), "rows without an override keep the default")
	assert.Len(t, table, len(notify.DefaultBindings()), "overrides replace rows rather than adding raw keys")
}

func TestBindingTable_RejectsUnknownValues(t *testing.T) {
	_, err := bindingTable([]config.BindingConfig{{Severity: "MEDIUM", Direction: "RECOVERING"}})
	assert.ErrorContains(t, err, "bindings[0]")

	_, err = bindingTable([]config.BindingConfig{{Severity: "HIGH", Direction: "sideways"}})
	assert.ErrorContains(t, err, "unknown direction")
}

func TestActionTable(t *testing.T) {
	cfg := config.SwitchBotConfig{Plugs: []config.PlugConfig{{Name: "N. Pi"}, {Name: "N. Fan"}}}
	actions := actionTable(cfg, "N.Pi")
	require.Contains(t, actions, "pi-plug-on")
	assert.Equal(t, "N. Pi", actions["pi-plug-on"].Device)

	cfg.Actions = map[string]config.ActionConfig{"fan-on": {Device: "N. Fan", Command: "turnOn"}}
	actions = actionTable(cfg, "N.Pi")
	require.Len(t, actions, 1)
	assert.Equal(t, switchbot.Action{
		Device:  "N. Fan",
		Command: switchbot.Command{Command: "turnOn", Parameter: "default", CommandType: "command"},
	}, actions["fan-on"])
}
