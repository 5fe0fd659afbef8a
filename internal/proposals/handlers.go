package proposals

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
	"github.com/lexmarket/lexmarket-backend/pkg/validation"
)

type Handler struct {
	db  *gorm.DB
	svc *Service
}

func NewHandler(db *gorm.DB, svc *Service) *Handler { return &Handler{db: db, svc: svc} }

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

// =====================================
// POST /api/proposals (lawyer)
// =====================================

type submitReq struct {
	RequestID  string `json:"request_id" validate:"required,uuid4"`
	PriceCents int    `json:"price_cents" validate:"required,gt=0"`
	Note       string `json:"note" validate:"max=2000"`
}

// @Summary      Submit proposal
// @Description  Lawyer submits one priced proposal on an open request
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  submitReq  true  "Proposal payload"
// @Success      201  {object}  map[string]any
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /proposals [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	lawyerID, _ := uuid.Parse(auth.MustUserID(c))

	var in submitReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	requestID, err := uuid.Parse(strings.TrimSpace(in.RequestID))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request_id")
	}

	p, err := h.svc.Submit(requestID, lawyerID, in.PriceCents, in.Note)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": p.ID, "status": p.Status, "price_cents": p.PriceCents, "note": p.Note,
	})
}

// =====================================
// PATCH /api/proposals/:id (lawyer)
// =====================================

type updateReq struct {
	PriceCents *int    `json:"price_cents" validate:"omitempty,gt=0"`
	Note       *string `json:"note" validate:"omitempty,max=2000"`
}

// @Summary      Update pending proposal
// @Description  Owning lawyer edits price/note while the proposal is still pending
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string     true  "proposal id (uuid)"
// @Param        payload  body  updateReq  true  "Fields to update"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /proposals/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	lawyerID, _ := uuid.Parse(auth.MustUserID(c))
	proposalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid proposal id")
	}

	var in updateReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	p, err := h.svc.UpdateContent(proposalID, lawyerID, in.PriceCents, in.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id": p.ID, "status": p.Status, "price_cents": p.PriceCents, "note": p.Note,
	})
}

// ==========================================================
// POST /api/requests/:id/proposals/:proposalID/decision (client)
// ==========================================================

type decisionReq struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
}

// @Summary      Decide on proposal
// @Description  Owning client accepts or rejects a pending proposal
// @Tags         proposals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id          path  string       true  "request id (uuid)"
// @Param        proposalID  path  string       true  "proposal id (uuid)"
// @Param        payload     body  decisionReq  true  "accept|reject"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /requests/{id}/proposals/{proposalID}/decision [post]
func (h *Handler) Decide(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request id")
	}
	proposalID, err := uuid.Parse(c.Params("proposalID"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid proposal id")
	}

	var in decisionReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	p, err := h.svc.Decide(requestID, clientID, proposalID, Decision(in.Decision))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": p.ID, "status": p.Status})
}

// =====================================================
// GET /api/proposals/mine?page=&pageSize=&status= (lawyer)
// =====================================================

type myProposalItem struct {
	ID         uuid.UUID             `json:"id"`
	RequestID  uuid.UUID             `json:"request_id"`
	PriceCents int                   `json:"price_cents"`
	Note       string                `json:"note"`
	Status     models.ProposalStatus `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (h *Handler) ListMine(c *fiber.Ctx) error {
	lawyerID := auth.MustUserID(c)
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))

	q := h.db.Model(&models.Proposal{}).Where("lawyer_id = ?", lawyerID)
	if status != "" {
		switch status {
		case string(models.ProposalPending), string(models.ProposalAccepted), string(models.ProposalRejected):
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []myProposalItem
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// ============================================================
// GET /api/requests/:id/proposals  (client owner sees all)
// ============================================================

type requestProposalItem struct {
	ID         uuid.UUID `json:"id"`
	LawyerID   uuid.UUID `json:"lawyer_id"`
	PriceCents int       `json:"price_cents"`
	Note       string    `json:"note"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *Handler) ListByRequestForOwner(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	requestID := c.Params("id")
	if _, err := uuid.Parse(requestID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request id")
	}

	// The request must belong to the calling client
	var cnt int64
	if err := h.db.Model(&models.LegalRequest{}).
		Where("id = ? AND client_id = ?", requestID, clientID).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.ErrForbidden
	}

	page, size := parsePage(c)
	q := h.db.Model(&models.Proposal{}).Where("request_id = ?", requestID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []requestProposalItem
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
