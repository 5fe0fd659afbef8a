package requests

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexmarket/lexmarket-backend/internal/auth"
	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/audit"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
	"github.com/lexmarket/lexmarket-backend/pkg/sanitize"
	"github.com/lexmarket/lexmarket-backend/pkg/validation"
)

// ===== DTOs =====

type CreateRequestRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	Category    string `json:"category" validate:"required,max=40"`
	Description string `json:"description" validate:"max=2000"`
}

type RequestListItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	Proposals int64  `json:"proposals"`
}

type PageRequests struct {
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Total    int64             `json:"total"`
	Pages    int               `json:"pages"`
	Items    []RequestListItem `json:"items"`
}

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

// Create Request godoc
// @Summary      Create legal request
// @Description  Client posts a new legal request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateRequestRequest  true  "Request payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /requests [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateRequestRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	clientUUID, _ := uuid.Parse(auth.MustUserID(c))
	lr := models.LegalRequest{
		ClientID:    clientUUID,
		Title:       strings.TrimSpace(in.Title),
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Status:      models.RequestOpen,
	}
	if err := h.db.Create(&lr).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	audit.LogRequestHistory(context.Background(), h.db, lr.ID, clientUUID,
		"created", "", models.RequestOpen, "")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": lr.ID})
}

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

type requestWithCounts struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Proposals int64     `json:"proposals"`
}

// List My Requests godoc
// @Summary      List my requests
// @Description  Client lists their own requests (paginated)
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  PageRequests
// @Failure      401  {object}  models.ErrorResponse
// @Router       /requests/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	page, size := parsePage(c)

	var total int64
	if err := h.db.Model(&models.LegalRequest{}).
		Where("client_id = ?", clientID).
		Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]requestWithCounts, 0, size)
	if err := h.db.
		Table("legal_requests").
		Select(`legal_requests.id, legal_requests.title, legal_requests.category,
          legal_requests.status, legal_requests.created_at,
          COUNT(proposals.id) AS proposals`).
		Joins("LEFT JOIN proposals ON proposals.request_id = legal_requests.id").
		Where("legal_requests.client_id = ?", clientID).
		Group("legal_requests.id").
		Order("legal_requests.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if rows == nil {
		rows = []requestWithCounts{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// Get request detail for owner
// @Summary      Request detail (owner)
// @Description  Client gets their request detail with proposals
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "request id (uuid)"
// @Success      200  {object}  models.LegalRequest
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /requests/{id} [get]
func (h *Handler) GetDetailOwner(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request id")
	}

	var lr models.LegalRequest
	err := h.db.
		Where("id = ? AND client_id = ?", id, clientID).
		Preload("Proposals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		First(&lr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("request not found")
		}
		return fiber.ErrInternalServerError
	}

	if lr.Proposals == nil {
		lr.Proposals = []models.Proposal{}
	}

	// Lawyer contact details inside notes stay hidden until the request is
	// engaged with an accepted proposal.
	if lr.Status == models.RequestOpen {
		for i := range lr.Proposals {
			lr.Proposals[i].Note = sanitize.RedactPII(lr.Proposals[i].Note)
		}
	}

	return c.JSON(lr)
}

// ====== Marketplace (anonymized) ======

type MarketRequestItem struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	CreatedAt     time.Time `json:"created_at"`
	Preview       string    `json:"preview"`
	HasMyProposal bool      `json:"has_my_proposal"`
}

type PageMarketRequests struct {
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	Total    int64               `json:"total"`
	Pages    int                 `json:"pages"`
	Items    []MarketRequestItem `json:"items"`
}

// Marketplace godoc
// @Summary      Marketplace (anonymized)
// @Description  Lawyer browses OPEN requests (server-side filters & pagination; no client identity)
// @Tags         marketplace
// @Security     BearerAuth
// @Produce      json
// @Param        page          query int    false "page"
// @Param        pageSize      query int    false "pageSize"
// @Param        category      query string false "category"
// @Param        created_since query string false "YYYY-MM-DD"
// @Success      200  {object}  PageMarketRequests
// @Failure      401  {object}  models.ErrorResponse
// @Router       /marketplace [get]
func (h *Handler) Marketplace(c *fiber.Ctx) error {
	lawyerID := auth.MustUserID(c) // used for HasMyProposal
	page, size := parsePage(c)
	category := strings.TrimSpace(c.Query("category"))
	createdSince := c.Query("created_since") // ISO date (YYYY-MM-DD)

	var since *time.Time
	if createdSince != "" {
		if t, err := time.Parse("2006-01-02", createdSince); err == nil {
			since = &t
		}
	}

	dbq := h.db.Model(&models.LegalRequest{}).Where("status = ?", models.RequestOpen)
	if category != "" {
		dbq = dbq.Where("category = ?", category)
	}
	if since != nil {
		dbq = dbq.Where("created_at >= ?", *since)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.LegalRequest
	if err := dbq.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Fetch which of the listed requests this lawyer already proposed on,
	// limited to the current page (IN (?)) to avoid N+1 queries.
	requestIDs := make([]uuid.UUID, 0, len(list))
	for _, lr := range list {
		requestIDs = append(requestIDs, lr.ID)
	}

	proposedMap := map[uuid.UUID]bool{}
	if len(requestIDs) > 0 {
		var proposedIDs []uuid.UUID
		if err := h.db.
			Model(&models.Proposal{}).
			Where("lawyer_id = ? AND request_id IN ?", lawyerID, requestIDs).
			Pluck("DISTINCT request_id", &proposedIDs).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		for _, rid := range proposedIDs {
			proposedMap[rid] = true
		}
	}

	items := make([]MarketRequestItem, 0, len(list))
	for _, lr := range list {
		preview := sanitize.Summary(sanitize.RedactPII(lr.Description), 240)

		items = append(items, MarketRequestItem{
			ID:            lr.ID,
			Title:         lr.Title,
			Category:      lr.Category,
			CreatedAt:     lr.CreatedAt,
			Preview:       preview,
			HasMyProposal: proposedMap[lr.ID],
		})
	}

	return c.JSON(PageMarketRequests{
		Page:     page,
		PageSize: size,
		Total:    total,
		Pages:    int(math.Ceil(float64(total) / float64(size))),
		Items:    items,
	})
}
