package websocket

import (
	"encoding/json"
	"time"
)

// Message types for WebSocket communication
const (
	MessageTypeConnection      = "connection"
	MessageTypeHeartbeat       = "heartbeat"
	MessageTypePong            = "pong"
	MessageTypeAlarmTransition = "alarm_transition"
	MessageTypeAlarmSnapshot   = "alarm_snapshot"

	// Client requests
	MessageTypePing        = "ping"
	MessageTypeSubscribe   = "subscribe_rules"
	MessageTypeUnsubscribe = "unsubscribe_rules"

	MessageTypeSubscriptionUpdate = "subscription_update"
	MessageTypeError              = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// ruleIDs reads a "rule_ids" list out of a client request.
func ruleIDs(data map[string]interface{}) []string {
	raw, ok := data["rule_ids"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// ErrorMessage builds an error reply for a client request.
func ErrorMessage(message string) Message {
	return Message{
		Type: MessageTypeError,
		Data: map[string]interface{}{"message": message},
	}
}
