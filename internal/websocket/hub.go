package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionObserver is told about connects and disconnects.
type ConnectionObserver interface {
	RecordWebSocketConnection(action string)
}

type outbound struct {
	data   []byte
	ruleID string
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for the clients
	broadcast chan outbound

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	logger   *logrus.Logger
	observer ConnectionObserver

	heartbeat time.Duration
	done      chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Statistics
	stats *HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub. observer may be nil.
func NewHub(logger *logrus.Logger, observer ConnectionObserver) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		observer:   observer,
		heartbeat:  30 * time.Second,
		done:       make(chan struct{}),
		stats: &HubStats{
			LastActivity: time.Now(),
		},
	}
}

// Run handles registration and broadcasting until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-ticker.C:
			h.sendHeartbeat()

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	count := len(h.clients)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.RecordWebSocketConnection("connect")
	}

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": count,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	client.trySend(welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closeSend()
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.observer != nil {
		h.observer.RecordWebSocketConnection("disconnect")
	}
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": count,
	}).Info("WebSocket client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Hub) broadcastMessage(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.ruleID == "" || client.Follows(msg.ruleID) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if !client.trySend(msg.data) {
			slow = append(slow, client)
		}
	}
	// Clients that cannot keep up are disconnected.
	for _, client := range slow {
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"message_size": len(msg.data),
		"clients_sent": len(clients) - len(slow),
	}).Debug("Message broadcasted to WebSocket clients")
}

func (h *Hub) sendHeartbeat() {
	h.Broadcast(Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{
			"clients": h.GetClientCount(),
		},
	})
}

// Broadcast queues message for every connected client. Messages naming a
// rule_id only reach clients following that rule.
func (h *Hub) Broadcast(message Message) {
	ruleID, _ := message.Data["rule_id"].(string)
	select {
	case h.broadcast <- outbound{data: message.ToJSON(), ruleID: ruleID}:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.WithField("message_type", message.Type).Warn("Broadcast channel is full, message dropped")
	}
}

// BroadcastToAll queues a typed payload for every connected client.
func (h *Hub) BroadcastToAll(messageType string, data map[string]interface{}) {
	h.Broadcast(Message{Type: messageType, Data: data})
}

// enqueue hands a register or unregister request to the run loop unless the
// hub has stopped.
func (h *Hub) enqueue(ch chan *Client, client *Client) bool {
	select {
	case ch <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) received() {
	h.mu.Lock()
	h.stats.MessagesReceived++
	h.mu.Unlock()
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statsCopy := *h.stats
	statsCopy.ConnectedClients = len(h.clients)
	return statsCopy
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
