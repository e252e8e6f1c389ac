package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/amajid/jamiya/docs"
	"github.com/amajid/jamiya/internal/activity"
	"github.com/amajid/jamiya/internal/config"
	"github.com/amajid/jamiya/internal/database"
	"github.com/amajid/jamiya/internal/escrow"
	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/internal/ledger"
	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/payout"
	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/internal/webhook"
	mw "github.com/amajid/jamiya/pkg/middleware"
)

// @title        Jamiya API
// @version      1.0
// @description  Rotating savings pool payment and escrow API
// @BasePath     /api/v1
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize database connection
	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	// Payout Policy Factory (Factory Pattern)
	policyFactory := ledger.NewPolicyFactory()
	policy, err := policyFactory.CreateFromString(cfg.PayoutPolicy)
	if err != nil {
		log.Fatalf("Invalid payout policy: %v", err)
	}

	// Outbound payment gateway
	gw := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	// Pool directory (read surface over pools and members)
	poolRepo := pool.NewRepository(db)

	// Activity feature
	activityRepo := activity.NewRepository(db)
	activityService := activity.NewService(activityRepo)
	activityHandler := activity.NewHandler(activityService)

	// Ledger feature (with payout policy injected)
	paymentRepo := payment.NewRepository(db)
	ledgerService := ledger.NewService(poolRepo, paymentRepo, policy)
	ledgerHandler := ledger.NewHandler(ledgerService)

	// Payment feature (ledger acts as contribution guard)
	paymentService := payment.NewService(paymentRepo, poolRepo, gw, ledgerService, activityService)
	paymentHandler := payment.NewHandler(paymentService)

	// Escrow feature
	escrowService := escrow.NewService(paymentRepo, poolRepo, gw, activityService)
	escrowHandler := escrow.NewHandler(escrowService)

	// Payout feature
	payoutService := payout.NewService(paymentRepo, poolRepo, ledgerService, gw, activityService)
	payoutHandler := payout.NewHandler(payoutService)

	// Webhook reconciliation
	webhookRepo := webhook.NewRepository(db)
	webhookService := webhook.NewService(webhookRepo, paymentRepo, paymentService, escrowService)
	webhookVerifier := webhook.NewVerifier(cfg.WebhookSecret)
	webhookHandler := webhook.NewHandler(webhookVerifier, webhookService)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(mw.TestUserMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger/*", httpSwagger.WrapHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Mount feature routers
		r.Mount("/payments", paymentHandler.Routes())
		r.Mount("/escrow", escrowHandler.Routes())
		r.Mount("/pools", ledgerHandler.Routes())
		r.Mount("/payouts", payoutHandler.Routes())
		r.Mount("/activity", activityHandler.Routes())
		r.Mount("/webhooks", webhookHandler.Routes())
	})

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
