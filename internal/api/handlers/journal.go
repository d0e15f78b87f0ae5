package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/database/models"
	"github.com/frostdev-ops/pma-alerting-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

const maxJournalLimit = 1000

// GetTransitions lists journaled alarm transitions, newest first.
func (h *Handlers) GetTransitions(c *gin.Context) {
	if h.journal == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Alarm journal is disabled")
		return
	}

	filter, err := journalFilter(c)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}

	transitions, err := h.journal.ListTransitions(c.Request.Context(), filter)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to list transitions")
		return
	}
	utils.SendSuccessWithMeta(c, transitions, gin.H{"count": len(transitions)})
}

// GetTransition returns one journaled transition.
func (h *Handlers) GetTransition(c *gin.Context) {
	if h.journal == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Alarm journal is disabled")
		return
	}

	transition, err := h.journal.GetTransition(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to get transition")
		return
	}
	if transition == nil {
		utils.SendError(c, http.StatusNotFound, "Transition not found")
		return
	}
	utils.SendSuccess(c, transition)
}

// GetDispatchFailures lists journaled notification failures, newest first.
func (h *Handlers) GetDispatchFailures(c *gin.Context) {
	if h.journal == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Alarm journal is disabled")
		return
	}

	filter, err := journalFilter(c)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}

	failures, err := h.journal.ListDispatchFailures(c.Request.Context(), filter)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to list dispatch failures")
		return
	}
	utils.SendSuccessWithMeta(c, failures, gin.H{"count": len(failures)})
}

func journalFilter(c *gin.Context) (models.JournalFilter, error) {
	filter := models.JournalFilter{RuleID: c.Query("rule_id")}

	var err error
	if filter.Since, err = queryTime(c, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = queryTime(c, "until"); err != nil {
		return filter, err
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxJournalLimit {
			return filter, fmt.Errorf("limit must be between 1 and %d", maxJournalLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	return t, nil
}
