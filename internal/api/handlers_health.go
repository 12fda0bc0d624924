// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	builds  BuildManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, builds BuildManager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		builds:  builds,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	running := 0
	sessions := h.builds.List()
	for _, s := range sessions {
		if !s.Status.Done() {
			running++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"builds":        len(sessions),
		"runningBuilds": running,
	})
}
