package settlement

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexmarket/lexmarket-backend/internal/ledger"
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
		&models.Transaction{}, &models.LedgerEntry{}, &models.RequestHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	request_histories,
	ledger_entries,
	transactions,
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

type fixture struct {
	ClientID   uuid.UUID
	LawyerID   uuid.UUID
	RequestID  uuid.UUID
	ProposalID uuid.UUID
}

// seedAccepted builds the state settle expects: an engaged request whose
// accepted proposal carries the given price, with the client funded to
// clientBalance cents.
func seedAccepted(t *testing.T, db *gorm.DB, priceCents, clientBalance int) fixture {
	t.Helper()

	clientID := uuid.New()
	lawyerID := uuid.New()

	if err := db.Create(&models.User{
		ID: clientID, Email: fmt.Sprintf("c+%s@test.local", uuid.NewString()),
		Role: models.RoleClient, BalanceCents: clientBalance,
	}).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.User{
		ID: lawyerID, Email: fmt.Sprintf("l+%s@test.local", uuid.NewString()),
		Role: models.RoleLawyer,
	}).Error; err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	p := models.Proposal{
		ID:         uuid.New(),
		LawyerID:   lawyerID,
		PriceCents: priceCents,
		Status:     models.ProposalAccepted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	lr := models.LegalRequest{
		ID:                 uuid.New(),
		ClientID:           clientID,
		Title:              "T",
		Category:           "Cat",
		Status:             models.RequestInProgress,
		EngagedAt:          &now,
		AcceptedProposalID: p.ID,
		AcceptedLawyerID:   lawyerID,
	}
	p.RequestID = lr.ID

	if err := db.Create(&lr).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}

	return fixture{ClientID: clientID, LawyerID: lawyerID, RequestID: lr.ID, ProposalID: p.ID}
}

func balanceOf(t *testing.T, db *gorm.DB, userID uuid.UUID) int {
	t.Helper()
	var u models.User
	if err := db.First(&u, "id = ?", userID).Error; err != nil {
		t.Fatal(err)
	}
	return u.BalanceCents
}

func newService(db *gorm.DB) *Service {
	return NewService(db, ledger.NewService(db))
}

/* ================== TESTS ================== */

func Test_Settle_MovesMoneyAndRecordsCommission(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 1000)

	rec, err := svc.Settle(fx.ProposalID, fx.ClientID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if rec.AmountCents != 500 || rec.CommissionCents != 50 {
		t.Fatalf("want amount=500 commission=50, got %+v", rec)
	}
	if got := balanceOf(t, db, fx.ClientID); got != 500 {
		t.Fatalf("client balance: want 500, got %d", got)
	}
	if got := balanceOf(t, db, fx.LawyerID); got != 450 {
		t.Fatalf("lawyer balance: want 450, got %d", got)
	}

	// two ledger entries, one per party, summing to -commission
	var entries []models.LedgerEntry
	if err := db.Where("account = ?", models.AccountCash).Find(&entries).Error; err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 ledger entries, got %d", len(entries))
	}
	sum := 0
	for _, e := range entries {
		sum += e.AmountCents
	}
	if sum != -50 {
		t.Fatalf("entries should net to -commission, got %d", sum)
	}
}

func Test_Settle_ConcurrentCallsOneWins(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 1000)

	// Both calls lock the same proposal row; the loser queues on the lock
	// and finds the winner's transaction when it gets through.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Settle(fx.ProposalID, fx.ClientID)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsKind(err, apperr.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("want one success and one Conflict, got ok=%d conflicts=%d", ok, conflicts)
	}

	var cnt int64
	if err := db.Model(&models.Transaction{}).Count(&cnt).Error; err != nil {
		t.Fatal(err)
	}
	if cnt != 1 {
		t.Fatalf("want exactly one transaction, got %d", cnt)
	}
	if got := balanceOf(t, db, fx.ClientID); got != 500 {
		t.Fatalf("client debited more than once: %d", got)
	}
	if got := balanceOf(t, db, fx.LawyerID); got != 450 {
		t.Fatalf("lawyer credited more than once: %d", got)
	}
}

func Test_Settle_SecondCallConflicts(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 1000)

	if _, err := svc.Settle(fx.ProposalID, fx.ClientID); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Settle(fx.ProposalID, fx.ClientID)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("want Conflict, got %v", err)
	}

	// balances untouched by the failed retry
	if got := balanceOf(t, db, fx.ClientID); got != 500 {
		t.Fatalf("client balance changed on retry: %d", got)
	}
	var cnt int64
	if err := db.Model(&models.Transaction{}).Count(&cnt).Error; err != nil {
		t.Fatal(err)
	}
	if cnt != 1 {
		t.Fatalf("want exactly one transaction, got %d", cnt)
	}
}

func Test_Settle_InsufficientBalance_NothingWritten(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 100)

	_, err := svc.Settle(fx.ProposalID, fx.ClientID)
	if !apperr.IsKind(err, apperr.KindInsufficientBalance) {
		t.Fatalf("want InsufficientBalance, got %v", err)
	}

	if got := balanceOf(t, db, fx.ClientID); got != 100 {
		t.Fatalf("client balance should be untouched, got %d", got)
	}
	if got := balanceOf(t, db, fx.LawyerID); got != 0 {
		t.Fatalf("lawyer balance should be untouched, got %d", got)
	}

	var txCount, entryCount int64
	if err := db.Model(&models.Transaction{}).Count(&txCount).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Model(&models.LedgerEntry{}).Count(&entryCount).Error; err != nil {
		t.Fatal(err)
	}
	if txCount != 0 || entryCount != 0 {
		t.Fatalf("no rows should survive the abort: tx=%d entries=%d", txCount, entryCount)
	}
}

func Test_Settle_RequiresAcceptedProposal(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 1000)

	// demote the proposal back to pending, then settle
	if err := db.Model(&models.Proposal{}).Where("id = ?", fx.ProposalID).
		Update("status", models.ProposalPending).Error; err != nil {
		t.Fatal(err)
	}
	_, err := svc.Settle(fx.ProposalID, fx.ClientID)
	if !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("want InvalidState, got %v", err)
	}
}

func Test_Settle_OnlyRequestOwner(t *testing.T) {
	db := openTestDB(t)
	svc := newService(db)
	fx := seedAccepted(t, db, 500, 1000)

	stranger := uuid.New()
	if err := db.Create(&models.User{
		ID: stranger, Email: fmt.Sprintf("x+%s@test.local", uuid.NewString()),
		Role: models.RoleClient, BalanceCents: 10000,
	}).Error; err != nil {
		t.Fatal(err)
	}

	_, err := svc.Settle(fx.ProposalID, stranger)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("want Forbidden, got %v", err)
	}
}

func Test_CommissionFor_Rounding(t *testing.T) {
	cases := []struct {
		price, want int
	}{
		{500, 50},
		{999, 100},  // 99.9 rounds up
		{994, 99},   // 99.4 rounds down
		{995, 100},  // 99.5 rounds half away from zero
		{1, 0},      // 0.1 rounds down
		{5, 1},      // 0.5 rounds up
		{10000, 1000},
	}
	for _, c := range cases {
		if got := CommissionFor(c.price); got != c.want {
			t.Errorf("CommissionFor(%d) = %d, want %d", c.price, got, c.want)
		}
		// payout + commission always reconstructs the price
		payout := c.price - CommissionFor(c.price)
		if payout+CommissionFor(c.price) != c.price {
			t.Errorf("price %d does not split cleanly", c.price)
		}
	}
}
