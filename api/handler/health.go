package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dealwatch/harvester/browser"
	"github.com/dealwatch/harvester/models"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of context slots
// are leased or the browser process is detached.
func Health(pool *browser.Pool, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := pool.Metrics()

		status := "healthy"
		if metrics.MaxContexts > 0 &&
			metrics.ActiveLeases > int(float64(metrics.MaxContexts)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Pool:    metrics,
			Version: "0.1.0",
		})
	}
}
