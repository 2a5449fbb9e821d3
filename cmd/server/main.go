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

	"github.com/boostpanel/backend/internal/config"
	"github.com/boostpanel/backend/internal/database"
	"github.com/boostpanel/backend/internal/fulfillment"
	mW "github.com/boostpanel/backend/internal/middleware"
	"github.com/boostpanel/backend/internal/payments"
	"github.com/boostpanel/backend/internal/services"
)

// @title BoostPanel Backend API
// @version 1.0
// @description Wallet, ledger and order dispatch backend for the BoostPanel storefront
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

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

	viper.BindEnv("panel.base_url", "PANEL_BASE_URL")
	viper.BindEnv("panel.api_key", "PANEL_API_KEY")

	viper.BindEnv("crypto.deposit_address", "CRYPTO_DEPOSIT_ADDRESS")
	viper.BindEnv("crypto.webhook_secret", "CRYPTO_WEBHOOK_SECRET")
	viper.BindEnv("crypto.coin", "CRYPTO_COIN")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	paymentsCfg := config.LoadPaymentsConfig()
	loopsCfg := config.LoadLoopsConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := payments.NewRegistry()
	if addr := viper.GetString("crypto.deposit_address"); addr != "" {
		registry.Register(payments.NewCryptoProvider(
			addr,
			viper.GetString("crypto.webhook_secret"),
			viper.GetString("crypto.coin"),
		))
		log.Println("Crypto payment provider registered")
	}

	panelClient := fulfillment.NewPanelClient(
		viper.GetString("panel.base_url"),
		viper.GetString("panel.api_key"),
		loopsCfg.ProviderTimeout,
	)

	ledgerService := services.NewLedgerService(db, redisClient)
	catalogService := services.NewCatalogService(db, redisClient)
	walletService := services.NewWalletService(db, ledgerService)
	checkoutService := services.NewCheckoutService(registry, ledgerService, paymentsCfg, loopsCfg.ProviderTimeout)
	webhookService := services.NewWebhookService(db, registry, ledgerService, checkoutService)
	orderService := services.NewOrderService(db, catalogService)
	dispatchService := services.NewDispatchService(db, panelClient, catalogService, loopsCfg.ProviderTimeout)
	reconcileService := services.NewReconcileService(db, registry, ledgerService,
		loopsCfg.ReconcileAfter, loopsCfg.ReconcileBatch, loopsCfg.ProviderTimeout)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Static file server for service icons
	r.Handle("/static/service-icons/*", http.StripPrefix("/static/service-icons/",
		mW.StaticFileServer("./static/service-icons")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/webhooks/{provider}", webhookService.HandleProviderWebhook)
		r.Get("/services", catalogService.ListServices)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet/balance", walletService.GetBalance)
			r.Get("/wallet/transactions", walletService.GetHistory)
			r.Get("/wallet/transactions/{entryId}", walletService.GetTransaction)
			r.Post("/wallet/topup", checkoutService.CreateTopUp)
			r.Post("/wallet/topup/confirm", checkoutService.ConfirmTopUp)

			r.Post("/orders", orderService.CreateOrder)
			r.Get("/orders", orderService.ListOrders)
			r.Get("/orders/{orderId}", orderService.GetOrder)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/admin/wallet/adjust", walletService.AdminAdjust)
				r.Get("/admin/wallet/{userId}/audit", walletService.AdminAudit)
				r.Post("/admin/reconcile", reconcileService.AdminReconcile)
			})
		})
	})

	// Background loops
	dispatchLoop := services.NewScheduler("dispatch", loopsCfg.DispatchInterval, dispatchService.RunCycle)
	expiryLoop := services.NewScheduler("expiry", loopsCfg.ExpiryInterval, func() {
		if _, err := ledgerService.ExpireStale(paymentsCfg.EntryExpiry); err != nil {
			log.Printf("[LEDGER] Expiry sweep failed: %v", err)
		}
	})
	reconcileLoop := services.NewScheduler("reconcile", loopsCfg.ReconcileInterval, reconcileService.RunScheduled)

	dispatchLoop.Start()
	expiryLoop.Start()
	reconcileLoop.Start()

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

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	dispatchLoop.Stop()
	expiryLoop.Stop()
	reconcileLoop.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
