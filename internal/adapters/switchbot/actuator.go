package switchbot

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ActionPiPlugOn switches the Pi plug back on.
const ActionPiPlugOn = "pi-plug-on"

// Action maps a remediation action id to a device command.
type Action struct {
	Device  string  `json:"device" mapstructure:"device"`
	Command Command `json:"command" mapstructure:"command"`
}

// DefaultActions returns the built-in action table for the given Pi plug name.
func DefaultActions(piDevice string) map[string]Action {
	return map[string]Action{
		ActionPiPlugOn: {Device: piDevice, Command: TurnOn},
	}
}

// TriggerObserver is told about every fired action.
type TriggerObserver interface {
	RecordTrigger(action string, err error)
}

// Actuator fires remediation actions as SwitchBot device commands.
type Actuator struct {
	client   *Client
	actions  map[string]Action
	observer TriggerObserver
	logger   *logrus.Logger
}

// NewActuator creates an actuator over client. observer may be nil.
func NewActuator(client *Client, actions map[string]Action, observer TriggerObserver, logger *logrus.Logger) *Actuator {
	table := make(map[string]Action, len(actions))
	for id, a := range actions {
		table[id] = a
	}
	return &Actuator{client: client, actions: table, observer: observer, logger: logger}
}

// Actions lists the known action ids.
func (a *Actuator) Actions() []string {
	ids := make([]string, 0, len(a.actions))
	for id := range a.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Trigger sends the command bound to actionID.
func (a *Actuator) Trigger(ctx context.Context, actionID string) error {
	action, ok := a.actions[actionID]
	if !ok {
		err := fmt.Errorf("unknown action %q", actionID)
		a.record(actionID, err)
		return err
	}

	err := a.client.WithDevice(ctx, action.Device, func(ctx context.Context, deviceID string) error {
		return a.client.SendCommand(ctx, deviceID, action.Command)
	})
	a.record(actionID, err)

	fields := logrus.Fields{
		"action":  actionID,
		"device":  action.Device,
		"command": action.Command.Command,
	}
	if err != nil {
		a.logger.WithFields(fields).WithError(err).Error("SwitchBot action failed")
		return err
	}
	a.logger.WithFields(fields).Info("SwitchBot action sent")
	return nil
}

func (a *Actuator) record(actionID string, err error) {
	if a.observer != nil {
		a.observer.RecordTrigger(actionID, err)
	}
}
