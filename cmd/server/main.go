package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/talkbridge/backend/docs"
	"github.com/talkbridge/backend/internal/audit"
	"github.com/talkbridge/backend/internal/config"
	"github.com/talkbridge/backend/internal/database"
	"github.com/talkbridge/backend/internal/handlers"
	mW "github.com/talkbridge/backend/internal/middleware"
	"github.com/talkbridge/backend/internal/services"
)

// @title Call Billing Backend API
// @version 1.0
// @description Credits ledger and metered call sessions
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	database.BindEnv()
	config.BindEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
	cfg := config.Load()

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	ctx := context.Background()

	// Initialize services
	db := database.InitDatabase(ctx)
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	hostname, _ := os.Hostname()
	lease := services.NewTickerLease(redisClient, hostname+"/"+uuid.NewString(), cfg.Billing.LeaseTTL)

	auditLogger := audit.NewLogger()
	ledgerService := services.NewLedgerService(db, auditLogger)
	accountService := services.NewAccountService(db)
	callStore := services.NewCallStore(db)
	translationService := services.NewTranslationService(ctx, cfg.Translation)
	defer translationService.Close()

	callService := services.NewCallService(
		cfg.Billing,
		ledgerService,
		callStore,
		accountService,
		services.NewPresenceDirectory(),
		lease,
		translationService,
		auditLogger,
	)
	if _, err := callService.Recover(ctx); err != nil {
		log.Fatalf("Failed to reconcile open calls: %v", err)
	}

	accountHandler := handlers.NewAccountHandler(accountService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	callHandler := handlers.NewCallHandler(callService)
	wsHandler := handlers.NewWSHandler(callService, originPatterns(cfg.Server.AllowedOrigins))

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(corsOptions(cfg.Server.AllowedOrigins)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "healthy",
			"activeCalls": callService.Registry().Len(),
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Websocket sessions are long lived and stay outside the request timeout.
	r.With(mW.AuthMiddleware).Get("/ws", wsHandler.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(mW.AuthMiddleware)

		r.Get("/account", accountHandler.GetAccount)
		r.Patch("/account", accountHandler.UpdateAccount)

		r.Get("/credits", ledgerHandler.GetCredits)
		r.Get("/transactions", ledgerHandler.GetTransactions)

		r.Post("/calls", callHandler.Initiate)
		r.Get("/calls/{callId}", callHandler.Get)
		r.Post("/calls/{callId}/accept", callHandler.Accept)
		r.Post("/calls/{callId}/reject", callHandler.Reject)
		r.Post("/calls/{callId}/end", callHandler.End)
		r.Post("/signals", callHandler.Signal)

		r.Group(func(r chi.Router) {
			r.Use(mW.AdminOnly)
			r.Post("/admin/accounts/{accountId}/credit", ledgerHandler.Credit)
			r.Post("/admin/accounts/{accountId}/debit", ledgerHandler.Debit)
		})
	})

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := callService.Shutdown(shutdownCtx); err != nil {
		log.Printf("Billing shutdown incomplete: %v", err)
	}

	log.Println("Server stopped")
}

// originPatterns turns CORS origins into the host patterns the websocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}
