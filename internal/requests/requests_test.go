package requests

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

/* ===== helpers ===== */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.LegalRequest{}, &models.Proposal{},
		&models.RequestHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	request_histories,
	proposals,
	legal_requests,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func seedUser(t *testing.T, db *gorm.DB, role models.Role) uuid.UUID {
	t.Helper()
	id := uuid.New()
	u := models.User{
		ID:    id,
		Email: fmt.Sprintf("u+%s@test.local", uuid.NewString()),
		Role:  role,
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

func seedLegalRequest(t *testing.T, db *gorm.DB, clientID uuid.UUID, status models.RequestStatus, category, description string) uuid.UUID {
	t.Helper()
	lr := models.LegalRequest{
		ID:          uuid.New(),
		ClientID:    clientID,
		Title:       "Need help",
		Category:    category,
		Description: description,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	if err := db.Create(&lr).Error; err != nil {
		t.Fatal(err)
	}
	return lr.ID
}

func seedProposal(t *testing.T, db *gorm.DB, requestID, lawyerID uuid.UUID, note string) uuid.UUID {
	t.Helper()
	p := models.Proposal{
		ID:         uuid.New(),
		RequestID:  requestID,
		LawyerID:   lawyerID,
		PriceCents: 5000,
		Note:       note,
		Status:     models.ProposalPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
	return p.ID
}

func injectAuth(userID uuid.UUID, role models.Role) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", string(role))
		return c.Next()
	}
}

func newTestApp(db *gorm.DB, userID uuid.UUID, role models.Role) *fiber.App {
	h := NewHandler(db)
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	app.Use(injectAuth(userID, role))
	app.Post("/api/requests", h.Create)
	app.Get("/api/requests/mine", h.ListMine)
	app.Get("/api/requests/:id", h.GetDetailOwner)
	app.Get("/api/marketplace", h.Marketplace)
	return app
}

func decodeBody(t *testing.T, resp io.Reader, into any) {
	t.Helper()
	if err := json.NewDecoder(resp).Decode(into); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

/* ================== TESTS ================== */

func Test_Create_PersistsOpenRequest(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	app := newTestApp(db, clientID, models.RoleClient)

	body := `{"title":"Contract review","category":"Contracts","description":"NDA for a vendor"}`
	req := httptest.NewRequest("POST", "/api/requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 201 {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}

	var lr models.LegalRequest
	if err := db.First(&lr, "client_id = ?", clientID).Error; err != nil {
		t.Fatal(err)
	}
	if lr.Status != models.RequestOpen || lr.Title != "Contract review" {
		t.Fatalf("unexpected row: %+v", lr)
	}
}

func Test_Create_ValidationFailure(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	app := newTestApp(db, clientID, models.RoleClient)

	// missing title and category
	req := httptest.NewRequest("POST", "/api/requests", strings.NewReader(`{"description":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func Test_ListMine_PaginatesWithProposalCounts(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	lawyerID := seedUser(t, db, models.RoleLawyer)

	var firstID uuid.UUID
	for i := 0; i < 12; i++ {
		id := seedLegalRequest(t, db, clientID, models.RequestOpen, "Contracts", "d")
		if i == 11 {
			firstID = id // newest, shows first
		}
		// stagger created_at so ordering is deterministic
		if err := db.Model(&models.LegalRequest{}).Where("id = ?", id).
			Update("created_at", time.Now().Add(time.Duration(i)*time.Second)).Error; err != nil {
			t.Fatal(err)
		}
	}
	seedProposal(t, db, firstID, lawyerID, "note")

	app := newTestApp(db, clientID, models.RoleClient)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/requests/mine?page=1&pageSize=10", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var out struct {
		Total int64 `json:"total"`
		Pages int   `json:"pages"`
		Items []struct {
			ID        uuid.UUID `json:"id"`
			Proposals int64     `json:"proposals"`
		} `json:"items"`
	}
	decodeBody(t, resp.Body, &out)
	if out.Total != 12 || out.Pages != 2 || len(out.Items) != 10 {
		t.Fatalf("pagination wrong: total=%d pages=%d items=%d", out.Total, out.Pages, len(out.Items))
	}
	if out.Items[0].ID != firstID || out.Items[0].Proposals != 1 {
		t.Fatalf("newest first with counts: %+v", out.Items[0])
	}
}

func Test_GetDetailOwner_RedactsNotesWhileOpen(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	lawyerID := seedUser(t, db, models.RoleLawyer)
	reqID := seedLegalRequest(t, db, clientID, models.RequestOpen, "Contracts", "d")
	seedProposal(t, db, reqID, lawyerID, "Call me at +62 812 3456 7890 or mail me@lawfirm.com")

	app := newTestApp(db, clientID, models.RoleClient)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/requests/"+reqID.String(), nil))
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var out struct {
		Proposals []struct {
			Note string `json:"Note"`
		} `json:"Proposals"`
	}
	decodeBody(t, resp.Body, &out)
	if len(out.Proposals) != 1 {
		t.Fatalf("want 1 proposal, got %d", len(out.Proposals))
	}
	note := out.Proposals[0].Note
	if strings.Contains(note, "lawfirm.com") || strings.Contains(note, "3456") {
		t.Fatalf("contact details leaked while open: %q", note)
	}
	if !strings.Contains(note, "[redacted email]") || !strings.Contains(note, "[redacted phone]") {
		t.Fatalf("expected redaction markers, got %q", note)
	}
}

func Test_GetDetailOwner_FullNotesOnceEngaged(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	lawyerID := seedUser(t, db, models.RoleLawyer)
	reqID := seedLegalRequest(t, db, clientID, models.RequestInProgress, "Contracts", "d")
	seedProposal(t, db, reqID, lawyerID, "mail me@lawfirm.com")

	app := newTestApp(db, clientID, models.RoleClient)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/requests/"+reqID.String(), nil))

	var out struct {
		Proposals []struct {
			Note string `json:"Note"`
		} `json:"Proposals"`
	}
	decodeBody(t, resp.Body, &out)
	if !strings.Contains(out.Proposals[0].Note, "me@lawfirm.com") {
		t.Fatalf("engaged request should expose full notes, got %q", out.Proposals[0].Note)
	}
}

func Test_GetDetailOwner_OtherClientsRequestHidden(t *testing.T) {
	db := openTestDB(t)
	owner := seedUser(t, db, models.RoleClient)
	other := seedUser(t, db, models.RoleClient)
	reqID := seedLegalRequest(t, db, owner, models.RequestOpen, "Contracts", "d")

	app := newTestApp(db, other, models.RoleClient)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/requests/"+reqID.String(), nil))
	if resp.StatusCode != 404 {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

func Test_Marketplace_AnonymizedAndFiltered(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	lawyerID := seedUser(t, db, models.RoleLawyer)

	withPII := seedLegalRequest(t, db, clientID, models.RequestOpen, "Contracts",
		"Reach me on client@example.com for details")
	seedLegalRequest(t, db, clientID, models.RequestOpen, "Family", "custody question")
	seedLegalRequest(t, db, clientID, models.RequestInProgress, "Contracts", "already engaged")

	seedProposal(t, db, withPII, lawyerID, "note")

	app := newTestApp(db, lawyerID, models.RoleLawyer)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/marketplace?category=Contracts", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var out PageMarketRequests
	decodeBody(t, resp.Body, &out)

	// in_progress row is excluded, only the open Contracts request survives
	if out.Total != 1 || len(out.Items) != 1 {
		t.Fatalf("want exactly one open Contracts row, got total=%d items=%d", out.Total, len(out.Items))
	}
	item := out.Items[0]
	if item.ID != withPII {
		t.Fatalf("wrong request listed: %s", item.ID)
	}
	if strings.Contains(item.Preview, "client@example.com") {
		t.Fatalf("marketplace preview leaked PII: %q", item.Preview)
	}
	if !item.HasMyProposal {
		t.Fatal("has_my_proposal should be true for the proposing lawyer")
	}
}

func Test_Marketplace_CreatedSinceFilter(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	lawyerID := seedUser(t, db, models.RoleLawyer)

	oldID := seedLegalRequest(t, db, clientID, models.RequestOpen, "Contracts", "old")
	if err := db.Model(&models.LegalRequest{}).Where("id = ?", oldID).
		Update("created_at", time.Now().AddDate(0, 0, -30)).Error; err != nil {
		t.Fatal(err)
	}
	freshID := seedLegalRequest(t, db, clientID, models.RequestOpen, "Contracts", "fresh")

	since := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	app := newTestApp(db, lawyerID, models.RoleLawyer)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/marketplace?created_since="+since, nil))

	var out PageMarketRequests
	decodeBody(t, resp.Body, &out)
	if out.Total != 1 || out.Items[0].ID != freshID {
		t.Fatalf("created_since filter wrong: total=%d", out.Total)
	}
}
