// @title           Legal Services Marketplace API
// @version         1.0
// @description     Clients post legal requests, lawyers submit priced proposals, accepted proposals settle through a commission-taking ledger, and subscriptions gate usage via token balances.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
	"github.com/lexmarket/lexmarket-backend/internal/ledger"
	"github.com/lexmarket/lexmarket-backend/internal/proposals"
	"github.com/lexmarket/lexmarket-backend/internal/requests"
	"github.com/lexmarket/lexmarket-backend/internal/settlement"
	"github.com/lexmarket/lexmarket-backend/internal/subscriptions"
	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/database"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.LegalRequest{}, &models.Proposal{},
		&models.Transaction{}, &models.LedgerEntry{},
		&models.SubscriptionPlan{}, &models.ClientSubscription{},
		&models.RequestHistory{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}
	if err := subscriptions.SeedPlans(db); err != nil {
		log.Fatal("plan seeding failed:", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apperr.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Core services: everything that moves money shares the one ledger.
	ledgerSvc := ledger.NewService(db)
	proposalSvc := proposals.NewService(db)
	settlementSvc := settlement.NewService(db, ledgerSvc)
	subscriptionSvc := subscriptions.NewService(db, ledgerSvc)

	// Requests
	reqH := requests.NewHandler(db)
	// Client
	api.Post("/requests", auth.RequireAuth(), auth.RequireRole("client"), reqH.Create)
	api.Get("/requests/mine", auth.RequireAuth(), auth.RequireRole("client"), reqH.ListMine)
	api.Get("/requests/:id", auth.RequireAuth(), auth.RequireRole("client"), reqH.GetDetailOwner)
	// Lawyer
	api.Get("/marketplace", auth.RequireAuth(), auth.RequireRole("lawyer"), reqH.Marketplace)

	// Proposals
	propH := proposals.NewHandler(db, proposalSvc)
	// Lawyer: submit, edit, my proposals
	api.Post("/proposals", auth.RequireAuth(), auth.RequireRole("lawyer"), propH.Submit)
	api.Patch("/proposals/:id", auth.RequireAuth(), auth.RequireRole("lawyer"), propH.Update)
	api.Get("/proposals/mine", auth.RequireAuth(), auth.RequireRole("lawyer"), propH.ListMine)
	// Client: view all proposals for their request, decide
	api.Get("/requests/:id/proposals", auth.RequireAuth(), auth.RequireRole("client"), propH.ListByRequestForOwner)
	api.Post("/requests/:id/proposals/:proposalID/decision", auth.RequireAuth(), auth.RequireRole("client"), propH.Decide)

	// Settlement
	settleH := settlement.NewHandler(settlementSvc)
	api.Post("/proposals/:id/settle", auth.RequireAuth(), auth.RequireRole("client"), settleH.Settle)
	api.Get("/proposals/:id/transaction", auth.RequireAuth(), settleH.GetTransaction)

	// Balance / ledger
	ledgerH := ledger.NewHandler(ledgerSvc)
	api.Get("/balance", auth.RequireAuth(), ledgerH.GetBalance)
	api.Get("/balance/history", auth.RequireAuth(), ledgerH.History)
	api.Post("/balance/topup", auth.RequireAuth(), auth.RequireRole("client"), ledgerH.TopUp)

	// Subscriptions
	subH := subscriptions.NewHandler(subscriptionSvc)
	api.Get("/plans", subH.ListPlans)
	api.Post("/subscriptions", auth.RequireAuth(), auth.RequireRole("client"), subH.Subscribe)
	api.Get("/subscriptions/me", auth.RequireAuth(), auth.RequireRole("client"), subH.GetMine)
	api.Post("/subscriptions/cancel", auth.RequireAuth(), auth.RequireRole("client"), subH.Cancel)
	api.Post("/lawyer/subscription", auth.RequireAuth(), auth.RequireRole("lawyer"), subH.SubscribeLawyer)
	api.Post("/lawyer/tokens/consume", auth.RequireAuth(), auth.RequireRole("lawyer"), subH.ConsumeTokens)

	// Stripe Webhook (server-only, no auth)
	api.Post("/subscriptions/stripe/webhook", subH.StripeWebhook)

	// Scheduler endpoints (shared-secret header)
	api.Post("/admin/subscriptions/expire", subH.ExpireSweep)
	api.Post("/admin/plans/:name/reset-tokens", subH.ResetTokens)

	// Only in dev mode with mock payment provider
	if os.Getenv("APP_ENV") == "dev" && os.Getenv("PAYMENT_PROVIDER") == "mock" {
		api.Post("/subscriptions/mock/confirm", auth.RequireAuth(), subH.MockConfirm) // Protected by X-Dev-Secret
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
