package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connCounter struct {
	mu     sync.Mutex
	events []string
}

func (c *connCounter) RecordWebSocketConnection(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, action)
}

func (c *connCounter) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func startHub(t *testing.T) (*Hub, *connCounter, string) {
	gin.SetMode(gin.TestMode)
	obs := &connCounter{}
	hub := NewHub(logger.Discard(), obs)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", HandleWebSocketGin(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, obs, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_WelcomeAndBroadcast(t *testing.T) {
	hub, obs, url := startHub(t)
	conn := dial(t, url)

	welcome := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, welcome.Type)
	assert.Equal(t, "connected", welcome.Data["status"])
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastToAll(MessageTypeAlarmTransition, map[string]interface{}{
		"rule_id":    "NHomeHeartbeatMissingAlarm",
		"new_status": "ALARM",
	})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeAlarmTransition, msg.Type)
	assert.Equal(t, "ALARM", msg.Data["new_status"])
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, []string{"connect"}, obs.snapshot())
}

func TestHub_RuleSubscriptions(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url+"?rule_id=NFanTurnedOff")
	readMessage(t, conn)

	hub.BroadcastToAll(MessageTypeAlarmTransition, map[string]interface{}{"rule_id": "NPiInvalidHighSev"})
	hub.BroadcastToAll(MessageTypeAlarmTransition, map[string]interface{}{"rule_id": "NFanTurnedOff"})

	msg := readMessage(t, conn)
	assert.Equal(t, "NFanTurnedOff", msg.Data["rule_id"], "unfollowed rule is filtered out")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Data: map[string]interface{}{
		"rule_ids": []string{"NPiInvalidHighSev"},
	}}))
	update := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscriptionUpdate, update.Type)
	assert.ElementsMatch(t, []interface{}{"NFanTurnedOff", "NPiInvalidHighSev"}, update.Data["rule_ids"])

	hub.BroadcastToAll(MessageTypeAlarmTransition, map[string]interface{}{"rule_id": "NPiInvalidHighSev"})
	msg = readMessage(t, conn)
	assert.Equal(t, "NPiInvalidHighSev", msg.Data["rule_id"])
}

func TestHub_PingAndUnknown(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "reboot"}))
	reply := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, reply.Type)
	assert.Contains(t, reply.Data["message"], "reboot")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestHub_Disconnect(t *testing.T) {
	hub, obs, url := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(obs.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"connect", "disconnect"}, obs.snapshot())
	assert.Equal(t, int64(1), hub.GetStats().TotalConnections)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	// Without a running loop the buffer fills up.
	hub := NewHub(logger.Discard(), nil)
	for i := 0; i < cap(hub.broadcast)+3; i++ {
		hub.BroadcastToAll(MessageTypeHeartbeat, map[string]interface{}{})
	}
	assert.Equal(t, int64(3), hub.GetStats().MessagesDropped)
}

func TestMessage_ToJSON(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	data := Message{Type: MessageTypeAlarmSnapshot, Data: map[string]interface{}{"n": 1}, Timestamp: at}.ToJSON()
	assert.JSONEq(t, `{"type":"alarm_snapshot","data":{"n":1},"timestamp":"2026-05-04T09:30:00Z"}`, string(data))
}

func TestRuleIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ruleIDs(map[string]interface{}{"rule_ids": []interface{}{"a", 3, "", "b"}}))
	assert.Nil(t, ruleIDs(map[string]interface{}{"rule_ids": "a"}))
	assert.Nil(t, ruleIDs(nil))
}
