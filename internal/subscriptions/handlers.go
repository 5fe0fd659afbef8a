package subscriptions

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
	"github.com/lexmarket/lexmarket-backend/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// ===============================
// GET /api/plans
// ===============================

// @Summary      List plans
// @Description  Active subscription plan catalog
// @Tags         subscriptions
// @Produce      json
// @Success      200  {array}  models.SubscriptionPlan
// @Router       /plans [get]
func (h *Handler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.svc.ListPlans()
	if err != nil {
		return err
	}
	return c.JSON(plans)
}

// ===============================
// POST /api/subscriptions (client)
// ===============================

type subscribeReq struct {
	PlanID string `json:"plan_id" validate:"required,uuid4"`
	// Billing period, used by the Stripe flow; the mock flow picks it at
	// confirm time instead.
	Duration string `json:"duration" validate:"omitempty,oneof=monthly yearly"`
}

// @Summary      Subscribe (client)
// @Description  Start a subscription; with a live one this is an upgrade to a pricier plan
// @Tags         subscriptions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  subscribeReq  true  "Plan to subscribe"
// @Success      201  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /subscriptions [post]
func (h *Handler) Subscribe(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))

	var in subscribeReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	planID, err := uuid.Parse(in.PlanID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid plan_id")
	}

	sub, err := h.svc.SubscribeClient(clientID, planID)
	if err != nil {
		return err
	}

	// Hand the caller a checkout URL for the pending payment.
	if os.Getenv("PAYMENT_PROVIDER") == "stripe" {
		duration := Duration(in.Duration)
		if duration != DurationYearly {
			duration = DurationMonthly
		}
		url, err := createStripeCheckout(sub, duration)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"subscription_id": sub.ID,
			"status":          sub.Status,
			"provider":        "stripe",
			"redirect_url":    url,
		})
	}

	// mock path: frontend "pays" by calling /subscriptions/mock/confirm
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"provider":        "mock",
		"redirect_url":    "mock://checkout?subscription_id=" + sub.ID.String(),
	})
}

// ===============================
// GET /api/subscriptions/me (client)
// ===============================

// @Summary      My subscription
// @Description  The client's live subscription, if any
// @Tags         subscriptions
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.ClientSubscription
// @Failure      404  {object}  models.ErrorResponse
// @Router       /subscriptions/me [get]
func (h *Handler) GetMine(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))
	sub, err := h.svc.CurrentForClient(clientID)
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

// ===============================
// POST /api/subscriptions/cancel (client)
// ===============================

// @Summary      Cancel subscription
// @Description  Marks the latest active subscription pending_cancellation; benefits persist until the end date
// @Tags         subscriptions
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Router       /subscriptions/cancel [post]
func (h *Handler) Cancel(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))
	sub, err := h.svc.CancelClient(clientID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": sub.ID, "status": sub.Status, "end_date": sub.EndDate})
}

// ========== Mock Confirm (dev only) ==========
// Body: { "subscription_id": "<uuid>", "duration": "monthly|yearly" }
// Header: X-Dev-Secret: <DEV_PAYMENT_SECRET>

type mockConfirmReq struct {
	SubscriptionID string `json:"subscription_id" validate:"required,uuid4"`
	Duration       string `json:"duration" validate:"required,oneof=monthly yearly"`
}

func (h *Handler) MockConfirm(c *fiber.Ctx) error {
	if os.Getenv("APP_ENV") != "dev" || os.Getenv("PAYMENT_PROVIDER") != "mock" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != os.Getenv("DEV_PAYMENT_SECRET") {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}

	var in mockConfirmReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	subID, err := uuid.Parse(in.SubscriptionID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid subscription id")
	}
	clientID, _ := uuid.Parse(auth.MustUserID(c))

	sub, err := h.svc.ConfirmPayment(subID, clientID, "mock", "mock_"+uuid.NewString(), Duration(in.Duration))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id": sub.ID, "status": sub.Status,
		"start_date": sub.StartDate, "end_date": sub.EndDate,
	})
}

// ===============================
// POST /api/lawyer/subscription (lawyer)
// ===============================

type lawyerSubscribeReq struct {
	PlanID string `json:"plan_id" validate:"required,uuid4"`
}

// @Summary      Subscribe (lawyer)
// @Description  Replaces the lawyer's plan immediately and resets the token balance to the plan limit
// @Tags         subscriptions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  lawyerSubscribeReq  true  "Plan to subscribe"
// @Success      200  {object}  map[string]any
// @Router       /lawyer/subscription [post]
func (h *Handler) SubscribeLawyer(c *fiber.Ctx) error {
	lawyerID, _ := uuid.Parse(auth.MustUserID(c))

	var in lawyerSubscribeReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	planID, err := uuid.Parse(in.PlanID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid plan_id")
	}

	u, err := h.svc.SubscribeLawyer(lawyerID, planID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"subscription_plan": u.SubscriptionPlan,
		"token_balance":     u.TokenBalance,
	})
}

// ===============================
// POST /api/lawyer/tokens/consume (lawyer)
// ===============================

type consumeReq struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=200"`
}

// @Summary      Consume tokens
// @Description  Debits the lawyer's token balance for AI-assistant usage
// @Tags         subscriptions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  consumeReq  true  "Tokens to consume"
// @Success      200  {object}  map[string]int  "token_balance"
// @Failure      422  {object}  models.ErrorResponse  "insufficient balance"
// @Router       /lawyer/tokens/consume [post]
func (h *Handler) ConsumeTokens(c *fiber.Ctx) error {
	lawyerID, _ := uuid.Parse(auth.MustUserID(c))

	var in consumeReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	reason := in.Reason
	if reason == "" {
		reason = "AI assistant usage"
	}
	nb, err := h.svc.ConsumeTokens(lawyerID, in.Amount, reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token_balance": nb})
}

/* ========================= Scheduler endpoints ========================== */
// Both endpoints are called by an external cron, authenticated with a shared
// secret header, the same pattern as the mock payment confirm.

func requireCronSecret(c *fiber.Ctx) error {
	if c.Get("X-Cron-Secret") == "" || c.Get("X-Cron-Secret") != os.Getenv("CRON_SECRET") {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Cron-Secret")
	}
	return nil
}

// POST /api/admin/subscriptions/expire
func (h *Handler) ExpireSweep(c *fiber.Ctx) error {
	if err := requireCronSecret(c); err != nil {
		return err
	}
	n, err := h.svc.ExpireSubscriptions()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"expired": n})
}

// POST /api/admin/plans/:name/reset-tokens
func (h *Handler) ResetTokens(c *fiber.Ctx) error {
	if err := requireCronSecret(c); err != nil {
		return err
	}
	n, err := h.svc.ResetTokenBalances(c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"reset": n})
}
