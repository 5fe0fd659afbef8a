package settlement

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// ==========================================
// POST /api/proposals/:id/settle (client)
// ==========================================

// @Summary      Settle accepted proposal
// @Description  Owning client pays the accepted proposal; client is debited, lawyer credited minus commission
// @Tags         settlement
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "proposal id (uuid)"
// @Success      201  {object}  models.Transaction
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "already settled"
// @Failure      422  {object}  models.ErrorResponse  "insufficient balance"
// @Router       /proposals/{id}/settle [post]
func (h *Handler) Settle(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))
	proposalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid proposal id")
	}

	rec, err := h.svc.Settle(proposalID, clientID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// ==========================================
// GET /api/proposals/:id/transaction
// ==========================================

// @Summary      Settlement record
// @Description  Transaction created when the proposal was settled
// @Tags         settlement
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "proposal id (uuid)"
// @Success      200  {object}  models.Transaction
// @Failure      404  {object}  models.ErrorResponse
// @Router       /proposals/{id}/transaction [get]
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	proposalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid proposal id")
	}

	rec, err := h.svc.Transaction(proposalID)
	if err != nil {
		return err
	}

	// Only the two parties may see the record.
	callerID := auth.MustUserID(c)
	if rec.ClientID.String() != callerID && rec.LawyerID.String() != callerID {
		return fiber.ErrForbidden
	}
	return c.JSON(rec)
}
