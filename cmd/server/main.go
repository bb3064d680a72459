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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/watchtoken/backend/docs"
	"github.com/watchtoken/backend/internal/config"
	"github.com/watchtoken/backend/internal/database"
	"github.com/watchtoken/backend/internal/handlers"
	"github.com/watchtoken/backend/internal/metrics"
	mW "github.com/watchtoken/backend/internal/middleware"
	"github.com/watchtoken/backend/internal/services"
)

// @title Watch Token Ledger API
// @version 1.0
// @description Centralized token ledger for registered devices
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Title = "Watch Token Ledger API"
	docs.SwaggerInfo.Description = "Centralized token ledger for registered devices"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerCfg := config.LoadLedgerConfig()

	// Initialize services
	ledgerService := services.NewLedgerService(db, ledgerCfg)
	if err := ledgerService.EnsureConfig(context.Background()); err != nil {
		log.Fatalf("Failed to seed ledger config: %v", err)
	}

	ledgerHandlers := services.NewLedgerHandlers(ledgerService)
	historyService := services.NewHistoryService(db)
	viewsService := services.NewViewsService(db, redisClient, ledgerCfg)
	authService := services.NewAuthService(db, ledgerService)
	qrService := services.NewQRService(db, redisClient, ledgerCfg)
	qrHandler := handlers.NewQRHandler(qrService)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

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

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/ledger/register", ledgerHandlers.Register)
		r.Post("/auth/token", authService.IssueToken)

		// Protected endpoints (device session required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/ledger/transfer", ledgerHandlers.Transfer)
			r.Post("/ledger/mint", ledgerHandlers.Mint)
			r.Post("/ledger/burn", ledgerHandlers.Burn)
			r.Get("/ledger/balance", ledgerHandlers.GetBalance)
			r.Put("/ledger/device-info", ledgerHandlers.UpdateDeviceInfo)
			r.Post("/ledger/deregister", ledgerHandlers.Deregister)

			r.Get("/transactions", historyService.ListTransactions)
			r.Get("/transactions/recent", historyService.GetRecentTransactions)
			r.Get("/transactions/{txId}", historyService.GetTransaction)
			r.Get("/accounts/{accountId}/audit-log", historyService.GetAuditLog)

			r.Get("/views/account-summary", viewsService.GetAccountSummary)
			r.Get("/views/ledger-stats", viewsService.GetLedgerStats)
			r.Get("/views/device-stats", viewsService.GetDeviceStats)

			r.Post("/qr/receive", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
