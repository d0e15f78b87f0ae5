package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting-go/internal/discovery"
	"github.com/frostdev-ops/pma-alerting-go/internal/websocket"
	"github.com/frostdev-ops/pma-alerting-go/pkg/utils"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health runs the registered component checks. Unhealthy services answer
// 503 so load balancers and probes can act on it.
func (h *Handlers) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())

	body := gin.H{
		"status":     report.Status,
		"message":    report.Message,
		"timestamp":  report.Timestamp,
		"service":    version.Service,
		"version":    version.GetVersion(),
		"components": report.Components,
		"system":     report.SystemInfo,
		"rules":      h.rules.Len(),
	}

	if report.Status == metrics.StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "data": body})
		return
	}
	utils.SendSuccess(c, body)
}

// Version returns build information.
func (h *Handlers) Version(c *gin.Context) {
	utils.SendSuccess(c, version.GetBuildInfo())
}

// WebSocketHandler upgrades the request to the live transition feed.
func (h *Handlers) WebSocketHandler() gin.HandlerFunc {
	return websocket.HandleWebSocketGin(h.hub)
}

// GetWebSocketStats returns WebSocket statistics
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	utils.SendSuccess(c, h.hub.GetStats())
}

// GetActions lists the remediation actions that can be triggered.
func (h *Handlers) GetActions(c *gin.Context) {
	if h.actions == nil {
		utils.SendSuccess(c, []string{})
		return
	}
	utils.SendSuccess(c, h.actions.Actions())
}

// TriggerAction runs a remediation action immediately.
func (h *Handlers) TriggerAction(c *gin.Context) {
	if h.actions == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Actuation is disabled")
		return
	}

	id := c.Param("id")
	known := false
	for _, a := range h.actions.Actions() {
		if a == id {
			known = true
			break
		}
	}
	if !known {
		utils.SendError(c, http.StatusNotFound, "Action not found")
		return
	}

	if err := h.actions.Trigger(c.Request.Context(), id); err != nil {
		h.log.WithError(err).WithField("action", id).Error("Manual action trigger failed")
		utils.SendError(c, http.StatusBadGateway, "Action failed: "+err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{"action": id, "triggered": true})
}

// GetPeers lists other alerting instances advertising on the LAN.
func (h *Handlers) GetPeers(c *gin.Context) {
	if h.peers == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Discovery is disabled")
		return
	}

	peers, err := h.peers.Browse(c.Request.Context())
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Discovery failed: "+err.Error())
		return
	}
	if peers == nil {
		peers = []discovery.Peer{}
	}
	utils.SendSuccess(c, peers)
}
