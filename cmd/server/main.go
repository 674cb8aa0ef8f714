package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tapvizit/backend/docs"
	"github.com/tapvizit/backend/internal/config"
	"github.com/tapvizit/backend/internal/database"
	"github.com/tapvizit/backend/internal/gateway"
	"github.com/tapvizit/backend/internal/handlers"
	mW "github.com/tapvizit/backend/internal/middleware"
	"github.com/tapvizit/backend/internal/services"
)

// @title TapVizit Dealer Ledger API
// @version 1.0
// @description Dealer prepaid-account ledger and card-payment settlement API
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("gateway.api_key", "GATEWAY_API_KEY")
	viper.BindEnv("gateway.secret_key", "GATEWAY_SECRET_KEY")
	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.callback_url", "GATEWAY_CALLBACK_URL")
	viper.BindEnv("gateway.currency", "GATEWAY_CURRENCY")
	viper.BindEnv("gateway.sandbox", "GATEWAY_SANDBOX")
	viper.BindEnv("gateway.intent_expiry", "GATEWAY_INTENT_EXPIRY")
	viper.BindEnv("gateway.sweep_interval", "GATEWAY_SWEEP_INTERVAL")

	viper.BindEnv("public_base_url", "PUBLIC_BASE_URL")
	viper.SetDefault("public_base_url", "http://localhost:8080")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"

	// Merchant credentials are fatal at startup, not per request.
	gatewayConfig, err := config.LoadGatewayConfig()
	if err != nil {
		log.Fatalf("Failed to load gateway configuration: %v", err)
	}
	if gatewayConfig.Sandbox {
		log.Println("Gateway running in sandbox mode, authorizations are synthetic")
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	gatewayClient := gateway.NewClient(gatewayConfig)
	ledgerService := services.NewLedgerService(db)
	provisioningService := services.NewProvisioningService(db, redisClient)
	paymentService := services.NewPaymentService(db, ledgerService, gatewayClient, provisioningService)
	qrService := services.NewQRService(redisClient, viper.GetString("public_base_url"))

	paymentHandler := handlers.NewPaymentHandler(paymentService, qrService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)

	// Background sweep for stranded redirect-pending intents.
	go func() {
		ticker := time.NewTicker(gatewayConfig.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := paymentService.ExpireStaleIntents(gatewayConfig.IntentExpiry); err != nil {
				log.Printf("Intent expiry sweep failed: %v", err)
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Payment result pages the callback redirects the browser to
	r.Handle("/payment/*", http.StripPrefix("/payment/",
		mW.PaymentPageServer("./static/payment-pages")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Processor webhook, no auth: the processor is authenticated by
		// order-number correlation, and unknown orders are dropped.
		r.Post("/payments/callback", paymentHandler.GatewayCallback)
		r.Get("/payments/callback", paymentHandler.GatewayCallback)

		// Dealer endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/deposit", paymentHandler.Deposit)
			r.Post("/purchase/balance", paymentHandler.PurchaseFromBalance)
			r.Post("/payment-intent", paymentHandler.CreatePaymentIntent)
			r.Post("/payment-intent/{orderNumber}/expire", paymentHandler.ExpireIntent)
			r.Get("/payment-intent/{orderNumber}/qr", paymentHandler.PaymentQR)

			r.Get("/balance", ledgerHandler.GetBalance)
			r.Get("/ledger", ledgerHandler.ListOwnEntries)
			r.Get("/ledger/{dealerId}", ledgerHandler.ListDealerEntries)

			r.Get("/purchases/{purchaseId}", provisioningService.GetPurchase)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
