package main

import (
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/config"
	"github.com/vpnpay/core/internal/middleware"
	"github.com/vpnpay/core/pkg/logging"
)

func applyGlobalMiddleware(r *gin.Engine, cfg *config.Config, logger *logging.StructuredLogger) {
	// Request ID must come first to be available in other middleware.
	r.Use(requestid.New())

	if cfg.Sentry.Enabled {
		r.Use(middleware.SentryMiddleware())
		r.Use(middleware.RecoverWithSentry())
	} else {
		r.Use(middleware.JSONRecoveryMiddleware())
	}

	r.Use(logger.GinLogger())
	r.Use(middleware.MetricsMiddleware())

	r.Use(func(c *gin.Context) {
		c.Set("base_url", cfg.Server.BaseURL)
		c.Set("environment", cfg.Server.Environment)
		c.Next()
	})
}
