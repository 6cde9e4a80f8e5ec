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
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/boostpay/backend/docs"
	"github.com/boostpay/backend/internal/config"
	"github.com/boostpay/backend/internal/database"
	"github.com/boostpay/backend/internal/handlers"
	mW "github.com/boostpay/backend/internal/middleware"
	"github.com/boostpay/backend/internal/services"
)

// @title BoostPay Payout Backend API
// @version 1.0
// @description API for creator payout approval and held-funds release
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

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "BoostPay Payout Backend API"
	docs.SwaggerInfo.Description = "API for creator payout approval and held-funds release"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	payoutCfg := config.LoadPayoutConfig()

	auditService := services.NewAuditService(db, redisClient, payoutCfg.NotificationQueue)
	approvalService := services.NewApprovalService(db, auditService)
	policyService := services.NewPolicyService(db)
	releaseService := services.NewReleaseService(db, policyService, auditService, payoutCfg.MaxBatchPartitions)

	approvalHandler := handlers.NewApprovalHandler(approvalService, payoutCfg)
	policyHandler := handlers.NewPolicyHandler(policyService)
	releaseHandler := handlers.NewReleaseHandler(releaseService)

	// Scheduled jobs: daily release run, hourly stale-approval sweep
	c := cron.New()
	c.AddFunc(payoutCfg.ReleaseCron, func() {
		if _, err := releaseService.ReleaseHeldFunds(context.Background(), ""); err != nil {
			log.Printf("[RELEASE] Scheduled run failed: %v", err)
		}
	})
	c.AddFunc(payoutCfg.ExpirySweepCron, func() {
		if _, err := approvalService.ExpireStale(); err != nil {
			log.Printf("[APPROVAL] Expiry sweep failed: %v", err)
		}
	})
	c.Start()
	defer c.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware
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

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes (all admin-facing; authn/z resolved by the auth collaborator,
	// the middleware only verifies the issued token)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminAuthMiddleware)

			r.Post("/payouts", approvalHandler.CreatePayout)
			r.Get("/approvals/{approvalID}", approvalHandler.GetApproval)
			r.Post("/approvals/{approvalID}/votes", approvalHandler.CastVote)

			r.Put("/payout-settings/{entityType}/{entityID}", policyHandler.UpdateSettings)
			r.Get("/payout-settings/{entityType}/{entityID}/history", policyHandler.GetHistory)
			r.Get("/payout-settings/resolve/{sourceID}", policyHandler.ResolvePolicy)

			r.Post("/admin/release-held-funds", releaseHandler.Run)
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

	// Wait for interrupt signal
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
