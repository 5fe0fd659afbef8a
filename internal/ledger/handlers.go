package ledger

import (
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
	"github.com/lexmarket/lexmarket-backend/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

func parseAccount(c *fiber.Ctx) models.LedgerAccount {
	if strings.TrimSpace(c.Query("account")) == string(models.AccountTokens) {
		return models.AccountTokens
	}
	return models.AccountCash
}

// ===============================
// POST /api/balance/topup (client)
// ===============================

type topUpReq struct {
	AmountCents int    `json:"amount_cents" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=200"`
}

// @Summary      Top up cash balance
// @Description  Client credits their own cash balance
// @Tags         balance
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  topUpReq  true  "Top-up payload"
// @Success      201  {object}  map[string]int  "balance_cents"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /balance/topup [post]
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var in topUpReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userID, _ := uuid.Parse(auth.MustUserID(c))
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "balance top-up"
	}

	nb, err := h.svc.UpdateBalance(userID, models.AccountCash, in.AmountCents, models.EntryCredit, desc)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"balance_cents": nb})
}

// ===============================
// GET /api/balance?account=
// ===============================

// @Summary      Current balance
// @Description  Cached balance for the authenticated user (cash or tokens)
// @Tags         balance
// @Security     BearerAuth
// @Produce      json
// @Param        account  query string false "cash|tokens"
// @Success      200  {object}  map[string]any
// @Router       /balance [get]
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	account := parseAccount(c)

	b, err := h.svc.Balance(userID, account)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account": account, "balance": b})
}

// ========================================
// GET /api/balance/history?account=&page=
// ========================================

// @Summary      Ledger history
// @Description  Append-only ledger entries for the authenticated user, newest first
// @Tags         balance
// @Security     BearerAuth
// @Produce      json
// @Param        account   query string false "cash|tokens"
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /balance/history [get]
func (h *Handler) History(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	account := parseAccount(c)
	page, size := parsePage(c)

	rows, total, err := h.svc.History(userID, account, page, size)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
