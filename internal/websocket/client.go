package websocket

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client identifier
	ID string

	conn *websocket.Conn
	hub  *Hub

	// Buffered channel of outbound messages
	send chan []byte

	logger *logrus.Logger

	// Client metadata
	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	mu     sync.RWMutex
	closed bool
	// Rule ids the client follows; empty means every rule.
	rules map[string]bool
}

// HandleWebSocket handles websocket requests from clients
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		hub:         hub,
		logger:      hub.logger,
		UserAgent:   r.Header.Get("User-Agent"),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		rules:       make(map[string]bool),
	}
	for _, id := range r.URL.Query()["rule_id"] {
		client.rules[id] = true
	}

	if !hub.enqueue(hub.register, client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, c.Writer, c.Request)
	}
}

// trySend queues data without blocking. It reports false when the client's
// buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.enqueue(c.hub.unregister, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.received()
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Debug("Failed to unmarshal WebSocket message")
		c.trySend(ErrorMessage("invalid message").ToJSON())
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.Follow(ruleIDs(msg.Data)...)
		c.sendSubscriptions()
	case MessageTypeUnsubscribe:
		c.Unfollow(ruleIDs(msg.Data)...)
		c.sendSubscriptions()
	case MessageTypePing:
		c.trySend(Message{Type: MessageTypePong, Data: map[string]interface{}{}}.ToJSON())
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
		c.trySend(ErrorMessage("unknown message type " + msg.Type).ToJSON())
	}
}

func (c *Client) sendSubscriptions() {
	c.trySend(Message{
		Type: MessageTypeSubscriptionUpdate,
		Data: map[string]interface{}{"rule_ids": c.Rules()},
	}.ToJSON())
}

// Follow restricts rule-scoped messages to the given rules.
func (c *Client) Follow(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.rules[id] = true
	}
	c.logger.WithFields(logrus.Fields{
		"client_id": c.ID,
		"rule_ids":  ids,
	}).Debug("Client subscribed to rules")
}

// Unfollow removes rules from the client's subscription.
func (c *Client) Unfollow(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.rules, id)
	}
}

// Follows reports whether messages about ruleID reach this client.
func (c *Client) Follows(ruleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules) == 0 || c.rules[ruleID]
}

// Rules lists the followed rule ids.
func (c *Client) Rules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.rules))
	for id := range c.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
