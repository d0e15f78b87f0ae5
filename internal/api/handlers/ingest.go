package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/ingest"
	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
	"github.com/frostdev-ops/pma-alerting-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type pointRequest struct {
	Namespace  string            `json:"namespace"`
	MetricName string            `json:"metric_name" binding:"required"`
	Dimensions map[string]string `json:"dimensions"`
	Value      *float64          `json:"value" binding:"required"`
	Timestamp  *time.Time        `json:"timestamp"`
}

type metricsRequest struct {
	Points []pointRequest `json:"points" binding:"required,min=1,dive"`
}

type ingestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// PostMetrics records a batch of datapoints. Points without a namespace use
// the service namespace; points without a timestamp are stamped on arrival.
func (h *Handlers) PostMetrics(c *gin.Context) {
	var req metricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	now := h.decoder.Now()
	points := make([]stream.MetricPoint, 0, len(req.Points))
	for _, p := range req.Points {
		point := stream.MetricPoint{
			Namespace:  p.Namespace,
			MetricName: p.MetricName,
			Dimensions: stream.NewDimensions(p.Dimensions),
			Value:      *p.Value,
			Timestamp:  now,
		}
		if point.Namespace == "" {
			point.Namespace = h.decoder.Namespace
		}
		if p.Timestamp != nil {
			point.Timestamp = *p.Timestamp
		}
		points = append(points, point)
	}

	accepted, err := h.ingestor.RecordBatch("api", points)
	h.sendIngestResult(c, len(points), accepted, err)
}

// PostReport decodes a device report and records its points.
func (h *Handlers) PostReport(c *gin.Context) {
	report, err := ingest.ParseReport(c.Request.Body)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid device report: "+err.Error())
		return
	}

	points, err := h.decoder.Points(report)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid device report: "+err.Error())
		return
	}

	accepted, err := h.ingestor.RecordBatch("report", points)
	h.sendIngestResult(c, len(points), accepted, err)
}

// GetLatestMetrics returns the newest point of every series held for
// evaluation. ?rule_id= narrows it to the series that rule watches.
func (h *Handlers) GetLatestMetrics(c *gin.Context) {
	if h.series == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Metric window is not available")
		return
	}

	latest := h.series.Latest()
	if id := c.Query("rule_id"); id != "" {
		rule, ok := h.rules.Rule(id)
		if !ok {
			utils.SendError(c, http.StatusNotFound, "Rule not found")
			return
		}
		matched := make([]stream.MetricPoint, 0, 1)
		for _, p := range latest {
			if rule.Metric.Matches(p) {
				matched = append(matched, p)
			}
		}
		latest = matched
	}
	utils.SendSuccessWithMeta(c, latest, gin.H{"count": len(latest)})
}

func (h *Handlers) sendIngestResult(c *gin.Context, total, accepted int, err error) {
	result := ingestResult{Accepted: accepted, Rejected: total - accepted}
	if err != nil {
		result.Errors = flatten(err)
	}

	if total > 0 && accepted == 0 {
		// a closed window means the service is shutting down
		status := http.StatusUnprocessableEntity
		if code := apperrors.GetStatusCode(err); code == http.StatusServiceUnavailable {
			status = code
		}
		h.log.WithFields(logrus.Fields{
			"path":     c.FullPath(),
			"rejected": result.Rejected,
		}).Warn("Ingestion request rejected")
		c.JSON(status, gin.H{
			"success": false,
			"error":   "No points accepted",
			"data":    result,
		})
		return
	}
	utils.SendSuccess(c, result)
}

func flatten(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
