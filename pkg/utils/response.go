package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API endpoint answers with. Error responses
// carry the request path, and 404s add endpoint suggestions.
type Response struct {
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Meta        gin.H     `json:"meta,omitempty"`
	Error       string    `json:"error,omitempty"`
	Path        string    `json:"path,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func SendSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

// SendSuccessWithMeta adds list metadata such as counts or totals.
func SendSuccessWithMeta(c *gin.Context, data any, meta gin.H) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta, Timestamp: time.Now().UTC()})
}

func SendError(c *gin.Context, statusCode int, message string) {
	resp := Response{Error: message, Path: c.Request.URL.Path, Timestamp: time.Now().UTC()}
	if statusCode == http.StatusNotFound {
		resp.Suggestions = generateNotFoundSuggestions(c.Request.URL.Path)
	}
	c.JSON(statusCode, resp)
}

// generateNotFoundSuggestions provides helpful endpoint suggestions for 404 errors
func generateNotFoundSuggestions(path string) []string {
	commonEndpoints := []string{
		"/health",
		"/metrics",
		"/ws",
		"/api/v1/rules",
		"/api/v1/alarms",
		"/api/v1/transitions",
		"/api/v1/dispatch-failures",
		"/api/v1/metrics",
		"/api/v1/reports",
		"/api/v1/actions",
	}

	pathLower := strings.ToLower(strings.Trim(path, "/"))
	var keywords []string
	for _, part := range strings.Split(pathLower, "/") {
		if part != "" && part != "api" && part != "v1" {
			keywords = append(keywords, strings.TrimSuffix(part, "s"))
		}
	}

	seen := make(map[string]bool)
	var unique []string
	for _, endpoint := range commonEndpoints {
		for _, keyword := range keywords {
			if strings.Contains(endpoint, keyword) && !seen[endpoint] && len(unique) < 5 {
				seen[endpoint] = true
				unique = append(unique, endpoint)
			}
		}
	}

	return unique
}
