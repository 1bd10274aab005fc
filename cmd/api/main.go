package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/config"
	"github.com/vpnpay/core/internal/middleware"
	"github.com/vpnpay/core/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.GetLogger()
	logger.Info("Starting vpnpay-core", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
	})

	infra := initInfrastructure(cfg)
	repos := initRepositories(infra)
	svcs := initServices(cfg, infra, repos)
	hdls := initHandlers(svcs, repos)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	applyGlobalMiddleware(router, cfg, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"environment": cfg.Server.Environment,
		})
	})

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", hdls.Payment.CreateIntent)
			payments.GET("/:payment_id", hdls.Payment.GetStatus)
			payments.GET("/:payment_id/wait", hdls.Payment.Wait)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/:provider", hdls.Webhook.Handle)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(infra.JWTManager))
		{
			admin.GET("/payments", hdls.Admin.ListPayments)
			admin.GET("/payments/statistics", hdls.Admin.Statistics)
			admin.POST("/payments/:payment_id/recheck", hdls.Admin.Recheck)
			admin.POST("/payments/:payment_id/issue", hdls.Admin.Issue)
			admin.POST("/payments/:payment_id/refund", hdls.Admin.Refund)
			admin.POST("/webhooks/retry", hdls.Admin.RetryWebhooks)
			admin.POST("/reconcile", hdls.Admin.Reconcile)
		}
	}

	schedulers := startSchedulers(svcs, infra)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Server started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	gracefulShutdown(srv, schedulers, infra)
}
