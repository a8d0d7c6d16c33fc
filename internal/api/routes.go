package api

import (
	"time"

	"fulfillment-api/internal/config"
	"fulfillment-api/internal/database"
	"fulfillment-api/internal/middleware"
	"fulfillment-api/internal/services"

	"github.com/gin-gonic/gin"
)

var (
	purchaseService *services.PurchaseService
	shippingService *services.ShippingService
	appService      *services.AppService
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine) {
	initServices()
	middleware.InitAppService()

	// API route group
	api := r.Group("/api")
	{
		// Purchase routes (end-user bearer token)
		purchase := api.Group("/purchase")
		purchase.Use(middleware.AuthMiddleware())
		{
			purchase.POST("/apple", ProcessApplePurchase)
			purchase.POST("/google", ProcessGooglePurchase)
		}

		// Shipment routes (server-to-server, app api key)
		shipment := api.Group("/shipment")
		shipment.Use(middleware.AppAuthMiddleware())
		{
			shipment.POST("/ship", ShipOrder)
			shipment.GET("/logs/:log_id", GetShipmentLog)
		}

		// Order routes (server-to-server, app api key)
		orders := api.Group("/orders")
		orders.Use(middleware.AppAuthMiddleware())
		{
			orders.GET("/:order_no", GetOrder)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "fulfillment-service",
		})
	})
}

// initServices wires the purchase pipeline once at startup
func initServices() {
	cfg := config.AppConfig
	db := database.GetDB()

	appleVerifier := services.NewAppleVerifier(cfg.AppleSharedSecrets)
	googleVerifier := services.NewGoogleVerifier(cfg.GoogleServiceAccounts)
	ledger := services.NewIdempotencyLedger(db, database.GetRedis())
	fulfillment := services.NewFulfillmentService()

	shippingService = services.NewShippingService(
		db,
		fulfillment,
		time.Duration(cfg.OrderPollIntervalSeconds)*time.Second,
		time.Duration(cfg.OrderPollTimeoutSeconds)*time.Second,
	)

	purchaseService = services.NewPurchaseService(
		db,
		ledger,
		appleVerifier,
		googleVerifier,
		shippingService,
		services.NewShipmentWebhook(),
		services.NewOpsNotifier(),
		cfg.OrderPrefix,
	)

	appService = services.NewAppService()
}
