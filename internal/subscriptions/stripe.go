package subscriptions

import (
	"encoding/json"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

// createStripeCheckout opens a Stripe Checkout session for a pending
// subscription. The subscription id rides along as the client reference so
// the webhook can find the row to activate.
func createStripeCheckout(sub *models.ClientSubscription, duration Duration) (string, error) {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		return "", fiber.NewError(fiber.StatusInternalServerError, "Stripe key not configured")
	}
	if sub.Plan.StripePriceID == "" {
		return "", apperr.InvalidState("plan has no Stripe price configured")
	}

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:3000"
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(appURL + "/subscription?success=1"),
		CancelURL:  stripe.String(appURL + "/subscription?canceled=1"),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(sub.Plan.StripePriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(sub.ID.String()),
	}
	params.AddMetadata("user_id", sub.UserID.String())
	params.AddMetadata("duration", string(duration))

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", fiber.NewError(fiber.StatusInternalServerError, "failed to create checkout session")
	}
	return s.URL, nil
}

// ========== Stripe Webhook (server-only, no auth) ==========

// StripeWebhook verifies the event signature and activates the referenced
// subscription on checkout completion. Unknown event types are acknowledged
// and ignored.
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(
		c.Body(),
		c.Get("Stripe-Signature"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
	)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook signature")
	}

	if event.Type != "checkout.session.completed" {
		return c.JSON(fiber.Map{"received": true})
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event payload")
	}

	subID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid client reference")
	}
	clientID, err := uuid.Parse(session.Metadata["user_id"])
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user metadata")
	}
	duration := Duration(session.Metadata["duration"])
	if duration != DurationYearly {
		duration = DurationMonthly
	}

	if _, err := h.svc.ConfirmPayment(subID, clientID, "stripe", session.ID, duration); err != nil {
		// An already-active row means a webhook retry; acknowledge it.
		if apperr.IsKind(err, apperr.KindInvalidState) {
			return c.JSON(fiber.Map{"received": true, "message": "already processed"})
		}
		log.Println("stripe webhook confirm failed:", err)
		return err
	}
	return c.JSON(fiber.Map{"received": true})
}
