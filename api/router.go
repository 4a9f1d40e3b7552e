// Package api wires the operational HTTP surface: health, per-site auth
// state, proxy health and a synchronous debug scrape endpoint.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dealwatch/harvester/api/handler"
	"github.com/dealwatch/harvester/api/middleware"
	"github.com/dealwatch/harvester/browser"
	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/proxy"
	"github.com/dealwatch/harvester/scrape"
	"github.com/dealwatch/harvester/sitehealth"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(orch *scrape.Orchestrator, pool *browser.Pool, registry *sitehealth.Registry,
	proxies *proxy.Rotator, cfg *config.Config, startTime time.Time) *gin.Engine {

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health stays outside auth so monitoring probes always work.
	v1.GET("/health", handler.Health(pool, startTime))

	// Everything else requires auth and is rate limited.
	protected := v1.Group("")
	if cfg.API.AuthEnabled {
		protected.Use(middleware.Auth(cfg.API.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.API))

	// Site health
	protected.GET("/sites", handler.Sites(registry))
	protected.POST("/sites/:site/reset", handler.ResetSite(registry))

	// Proxy pool
	protected.GET("/proxies", handler.Proxies(proxies))

	// Synchronous debug scrape
	protected.POST("/scrape", handler.Scrape(orch))

	return r
}
