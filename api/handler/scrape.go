package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealwatch/harvester/models"
	"github.com/dealwatch/harvester/scrape"
)

// Scrape returns a handler for POST /api/v1/scrape: runs one monitor
// synchronously and returns the extraction report. Meant for operators
// debugging a site, not for the scheduler's bulk cycles.
func Scrape(orch *scrape.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var monitor models.Monitor
		if err := c.ShouldBindJSON(&monitor); err != nil {
			c.JSON(http.StatusBadRequest, models.Fail(
				models.ErrCodeInternal, "invalid monitor payload: "+err.Error()))
			return
		}
		if monitor.Site == "" || monitor.SearchURL == "" {
			c.JSON(http.StatusBadRequest, models.Fail(
				models.ErrCodeInternal, "site and search_url are required"))
			return
		}
		if monitor.AuthMode == "" {
			monitor.AuthMode = models.AuthAnonymous
		}

		report, err := orch.Scrape(c.Request.Context(), monitor)
		if err != nil {
			status, detail := classifyHTTP(err)
			c.JSON(status, models.APIResponse{Success: false, Error: detail})
			return
		}
		c.JSON(http.StatusOK, models.OK(report))
	}
}

// classifyHTTP maps engine error codes onto HTTP statuses.
func classifyHTTP(err error) (int, *models.ErrorDetail) {
	var engineErr *models.EngineError
	if !errors.As(err, &engineErr) {
		return http.StatusInternalServerError, &models.ErrorDetail{
			Code:    models.ErrCodeInternal,
			Message: err.Error(),
		}
	}

	switch engineErr.Code {
	case models.ErrCodeSessionRequired, models.ErrCodeNeedsReauth:
		return http.StatusUnprocessableEntity, engineErr.ToDetail()
	case models.ErrCodeSiteCoolingDown:
		return http.StatusConflict, engineErr.ToDetail()
	case models.ErrCodeMemoryCritical, models.ErrCodeMemoryHigh, models.ErrCodeAcquireTimeout:
		return http.StatusServiceUnavailable, engineErr.ToDetail()
	case models.ErrCodeSiteBlocked, models.ErrCodeChallenge:
		return http.StatusBadGateway, engineErr.ToDetail()
	default:
		return http.StatusInternalServerError, engineErr.ToDetail()
	}
}
