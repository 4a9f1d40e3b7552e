package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealwatch/harvester/models"
	"github.com/dealwatch/harvester/sitehealth"
)

// Sites returns a handler for GET /api/v1/sites: the per-site auth-health
// snapshot for operator dashboards.
func Sites(registry *sitehealth.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.OK(registry.Snapshot()))
	}
}

// ResetSite returns a handler for POST /api/v1/sites/:site/reset. Clears a
// site back to the unknown state, typically after an operator has fixed
// whatever was blocking it.
func ResetSite(registry *sitehealth.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		site := c.Param("site")
		if site == "" {
			c.JSON(http.StatusBadRequest, models.Fail(
				models.ErrCodeInternal, "site parameter is required"))
			return
		}
		registry.Reset(site)
		c.JSON(http.StatusOK, models.OK(gin.H{"site": site, "status": "reset"}))
	}
}
