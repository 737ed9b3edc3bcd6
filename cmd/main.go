package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"razorpay-link-service/internal/broker"
	"razorpay-link-service/internal/cache"
	"razorpay-link-service/internal/config"
	"razorpay-link-service/internal/events"
	"razorpay-link-service/internal/handlers"
	"razorpay-link-service/internal/middleware"
	"razorpay-link-service/internal/models"
	"razorpay-link-service/internal/razorpay"
	"razorpay-link-service/internal/repository"
	"razorpay-link-service/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	serviceLogger := logrus.New()
	serviceLogger.SetFormatter(&logrus.JSONFormatter{})
	serviceLogger.SetLevel(logrus.InfoLevel)

	// Connect to database
	db, err := connectDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.Order{},
		&models.OrderNote{},
		&models.OrderRefund{},
		&models.CredentialSet{},
	); err != nil {
		log.Printf("Warning: Auto-migration failed: %v", err)
	}

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)

	// Initialize cache (refresh locks, connect-state nonces)
	var locker cache.Locker
	var states cache.StateStore
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		redisCache := cache.NewRedisCache(redisClient)
		locker, states = redisCache, redisCache
		log.Println("✓ Connected to redis")
	} else {
		memoryCache := cache.NewMemoryCache()
		locker, states = memoryCache, memoryCache
		log.Println("Warning: redis unavailable, using in-process cache")
	}

	// Initialize event dispatcher
	dispatcher := events.NewDispatcher(serviceLogger)

	// Initialize NATS events publisher
	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL, serviceLogger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize events publisher: %v (events won't be published)", err)
		} else {
			defer publisher.Close()
			for _, event := range []string{
				events.EventLinkCreated,
				events.EventLinkCancelled,
				events.EventOrderPaid,
				events.EventOrderRefunded,
				events.EventAccountConnected,
				events.EventAccountDisconnected,
			} {
				dispatcher.Register(event, "nats-publisher", publisher.Handle)
			}
			log.Println("✓ NATS events publisher initialized")
		}
	}

	// Initialize broker client and token lifecycle
	brokerClient := broker.NewClient(cfg.Broker.URL, cfg.Broker.GatewayID, serviceLogger)
	tokenService := services.NewTokenService(credentialRepo, brokerClient, locker, serviceLogger)
	defer tokenService.Stop()

	// Initialize processor client for the active mode
	variant, err := razorpay.ParseVariant(cfg.Gateway.Variant)
	if err != nil {
		log.Fatalf("Invalid gateway configuration: %v", err)
	}
	activeMode := models.ModeLive
	if cfg.Gateway.TestMode {
		activeMode = models.ModeTest
	}
	gatewayClient := razorpay.NewClient(cfg.Gateway.BaseURL, variant, tokenService.AuthHeaderProvider(activeMode), serviceLogger)

	// Initialize services
	linkService := services.NewLinkService(orderRepo, credentialRepo, gatewayClient, dispatcher, cfg.Gateway, cfg.PublicBaseURL, serviceLogger)
	connectService := services.NewConnectService(credentialRepo, brokerClient, states, locker, tokenService, dispatcher, cfg.Broker, serviceLogger)
	webhookSetupService := services.NewWebhookSetupService(gatewayClient, cfg.Gateway, cfg.PublicBaseURL, serviceLogger)

	// Orders that leave the payable statuses no longer need their link
	dispatcher.Register(events.EventOrderStatusChanged, "cancel-stale-link", func(ctx context.Context, _ string, payload events.Payload) error {
		orderID, _ := payload["orderId"].(string)
		status, _ := payload["status"].(string)
		return linkService.HandleOrderStatusChange(ctx, orderID, models.OrderStatus(status))
	})

	// Relay order status transitions from the order platform
	if cfg.NATSURL != "" {
		subscriber, err := events.NewOrderStatusSubscriber(cfg.NATSURL, dispatcher, serviceLogger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize order status subscriber: %v", err)
		} else {
			defer subscriber.Stop()
			if err := subscriber.Start(context.Background()); err != nil {
				log.Printf("WARNING: Order status subscriber failed to start: %v", err)
			} else {
				log.Println("✓ Order status subscriber started")
			}
		}
	}

	// Arm token renewal timers for already-connected modes
	tokenService.StartupSchedule(context.Background())

	// Initialize handlers
	linkHandler := handlers.NewLinkHandler(linkService)
	callbackHandler := handlers.NewCallbackHandler(linkService, cfg, serviceLogger)
	connectHandler := handlers.NewConnectHandler(connectService, webhookSetupService, cfg)

	// Setup router
	router := setupRouter(cfg, linkHandler, callbackHandler, connectHandler)

	// Start server
	log.Printf("Payment Link Service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectDatabase establishes a connection to the database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✓ Connected to database")
	return db, nil
}

// connectRedis returns a verified redis client, or nil if unreachable.
func connectRedis(redisURL string) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Warning: invalid REDIS_URL: %v", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: redis ping failed: %v", err)
		return nil
	}
	return client
}

// setupRouter configures the HTTP router
func setupRouter(cfg *config.Config, linkHandler *handlers.LinkHandler, callbackHandler *handlers.CallbackHandler, connectHandler *handlers.ConnectHandler) *gin.Engine {
	router := gin.Default()

	// Initialize rate limiters
	rateLimits := middleware.NewServiceRateLimits()

	// Security headers middleware
	router.Use(middleware.SecurityHeaders())

	// CORS middleware with secure configuration
	corsConfig := middleware.DefaultCORSConfig()
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins != "" {
		corsConfig.AllowedOrigins = strings.Split(allowedOrigins, ",")
	} else {
		// Default for development - in production, set CORS_ALLOWED_ORIGINS
		corsConfig.AllowedOrigins = []string{
			"http://localhost:3000",
		}
	}
	router.Use(middleware.CORS(corsConfig))

	// Request validation middleware
	router.Use(middleware.ValidateRequest())

	// Health check (no rate limiting)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "razorpay-link-service",
		})
	})

	// Webhook deliveries bypass the API group; signature verification is
	// the only authentication the processor offers.
	router.POST("/webhooks/razorpay",
		middleware.RateLimitMiddleware(rateLimits.Webhook),
		callbackHandler.Webhook)

	v1 := router.Group("/api/v1")
	{
		// Customer-facing redirect back from hosted checkout
		v1.GET("/callback/payment",
			middleware.RateLimitMiddleware(rateLimits.Callback),
			callbackHandler.PaymentRedirect)

		// Order payment-link lifecycle
		orders := v1.Group("/orders")
		{
			orders.POST("/:id/payment-link",
				middleware.RateLimitMiddleware(rateLimits.CreateLink),
				linkHandler.CreateLink)
			orders.POST("/:id/cancel-link",
				middleware.RequireAdminToken(cfg.AdminToken),
				linkHandler.CancelLink)
			orders.POST("/:id/refund",
				middleware.RequireAdminToken(cfg.AdminToken),
				middleware.RateLimitMiddleware(rateLimits.Refund),
				linkHandler.Refund)
		}

		// Privileged connect/disconnect operations
		admin := v1.Group("/admin")
		admin.Use(middleware.RateLimitMiddleware(rateLimits.Admin))
		{
			// The return leg is a bare browser redirect authenticated by
			// its state nonce, not by the admin token.
			admin.GET("/connect/callback", connectHandler.ConnectCallback)

			guarded := admin.Group("")
			guarded.Use(middleware.RequireAdminToken(cfg.AdminToken))
			{
				guarded.POST("/connect/:mode", connectHandler.Connect)
				guarded.POST("/disconnect/:mode", connectHandler.Disconnect)
				guarded.GET("/status/:mode", connectHandler.Status)
				guarded.POST("/webhook-setup", connectHandler.WebhookSetup)
			}
		}
	}

	return router
}
