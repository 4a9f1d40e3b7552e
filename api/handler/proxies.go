package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealwatch/harvester/models"
	"github.com/dealwatch/harvester/proxy"
)

// Proxies returns a handler for GET /api/v1/proxies: per-proxy health with
// credentials redacted. With no rotator configured the list is empty.
func Proxies(rotator *proxy.Rotator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rotator == nil {
			c.JSON(http.StatusOK, models.OK([]models.ProxyStatus{}))
			return
		}
		c.JSON(http.StatusOK, models.OK(rotator.Snapshot()))
	}
}
