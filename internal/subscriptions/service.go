// Package subscriptions manages the plan catalog and both subscription
// state machines: dated, paid client subscriptions and the direct-replace
// token plans lawyers hold. All token movements go through the ledger.
package subscriptions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexmarket/lexmarket-backend/internal/ledger"
	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

// Duration is the billing period chosen at payment time.
type Duration string

const (
	DurationMonthly Duration = "monthly"
	DurationYearly  Duration = "yearly"
)

type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
}

func NewService(db *gorm.DB, lg *ledger.Service) *Service {
	return &Service{db: db, ledger: lg}
}

/* ============================ Plan catalog ============================== */

// ListPlans returns the active plan catalog.
func (s *Service) ListPlans() ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if err := s.db.Where("active = ?", true).
		Order("price_cents ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []models.SubscriptionPlan{}
	}
	return plans, nil
}

func (s *Service) activePlan(tx *gorm.DB, planID uuid.UUID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := tx.First(&plan, "id = ? AND active = ?", planID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("plan not found")
		}
		return nil, err
	}
	return &plan, nil
}

/* ======================= Client subscriptions =========================== */

// SubscribeClient starts a subscription for a client. With a live paid
// subscription the call becomes an upgrade: the target plan must cost more
// than the current one, the old row goes terminal, and a fresh
// pending_payment row is created. A stale pending_payment row (abandoned
// checkout) is superseded instead of blocking the client forever.
//
// The user row is locked FOR UPDATE before the live rows are read. Locking
// the subscription rows alone would not serialize two first-time subscribes:
// with zero live rows there is nothing to lock and both inserts go through.
// The user row always exists, so every subscribe for one client queues here.
func (s *Service) SubscribeClient(clientID, planID uuid.UUID) (*models.ClientSubscription, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var u models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "id = ?", clientID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("client not found")
		}
		return nil, err
	}

	plan, err := s.activePlan(tx, planID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var live []models.ClientSubscription
	if err := tx.
		Where("user_id = ? AND status IN ?", clientID, models.LiveSubscriptionStatuses).
		Order("created_at DESC").
		Find(&live).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now()
	var current *models.ClientSubscription
	for i := range live {
		row := &live[i]
		if row.Status == models.SubscriptionPendingPayment {
			// Unpaid row from an earlier attempt; the new attempt replaces it.
			if err := tx.Model(&models.ClientSubscription{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"status":     models.SubscriptionCancelled,
					"end_date":   now,
					"updated_at": now,
				}).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			continue
		}
		if current == nil {
			current = row
		}
	}

	if current != nil {
		// Upgrade path: compare against the current plan's price.
		var currentPlan models.SubscriptionPlan
		if err := tx.First(&currentPlan, "id = ?", current.PlanID).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if plan.PriceCents <= currentPlan.PriceCents {
			tx.Rollback()
			return nil, apperr.InvalidState("can only upgrade to a more expensive plan")
		}

		// The old row goes terminal so at most one live row exists per
		// client at any time; its end date is cut to now.
		if err := tx.Model(&models.ClientSubscription{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{
				"status":     models.SubscriptionCancelled,
				"end_date":   now,
				"updated_at": now,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	sub := models.ClientSubscription{
		UserID:    clientID,
		PlanID:    plan.ID,
		Status:    models.SubscriptionPendingPayment,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := tx.Create(&sub).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	sub.Plan = *plan
	return &sub, nil
}

// ConfirmPayment activates a pending_payment subscription once the payment
// provider reports success. The period runs from now for one month or one
// year depending on the chosen duration.
func (s *Service) ConfirmPayment(subscriptionID, clientID uuid.UUID, provider, providerRef string, duration Duration) (*models.ClientSubscription, error) {
	if duration != DurationMonthly && duration != DurationYearly {
		return nil, apperr.Invalid("duration must be monthly or yearly")
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var sub models.ClientSubscription
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "id = ?", subscriptionID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("subscription not found")
		}
		return nil, err
	}
	if sub.UserID != clientID {
		tx.Rollback()
		return nil, apperr.Forbidden("not your subscription")
	}
	if sub.Status != models.SubscriptionPendingPayment {
		tx.Rollback()
		return nil, apperr.InvalidState("subscription is not awaiting payment")
	}

	start := time.Now()
	var end time.Time
	if duration == DurationYearly {
		end = start.AddDate(1, 0, 0)
	} else {
		end = start.AddDate(0, 1, 0)
	}

	if err := tx.Model(&models.ClientSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"status":            models.SubscriptionActive,
			"start_date":        start,
			"end_date":          end,
			"payment_provider":  provider,
			"payment_reference": providerRef,
			"updated_at":        start,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionActive
	sub.StartDate = &start
	sub.EndDate = &end
	sub.PaymentProvider = provider
	sub.PaymentReference = providerRef
	return &sub, nil
}

// CancelClient marks the client's latest active subscription
// pending_cancellation. Benefits persist until the end date; the expiry
// sweep later flips the row to cancelled.
func (s *Service) CancelClient(clientID uuid.UUID) (*models.ClientSubscription, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var sub models.ClientSubscription
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", clientID, models.SubscriptionActive).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no active subscription")
		}
		return nil, err
	}

	if err := tx.Model(&models.ClientSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"status":     models.SubscriptionPendingCancellation,
			"updated_at": time.Now(),
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionPendingCancellation
	return &sub, nil
}

// CurrentForClient returns the client's live subscription, if any.
func (s *Service) CurrentForClient(clientID uuid.UUID) (*models.ClientSubscription, error) {
	var sub models.ClientSubscription
	err := s.db.Preload("Plan").
		Where("user_id = ? AND status IN ?", clientID, models.LiveSubscriptionStatuses).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no subscription")
		}
		return nil, err
	}
	return &sub, nil
}

// ExpireSubscriptions flips every dated subscription whose end date has
// passed to cancelled. Invoked periodically by an external scheduler.
func (s *Service) ExpireSubscriptions() (int64, error) {
	res := s.db.Model(&models.ClientSubscription{}).
		Where("status IN ? AND end_date IS NOT NULL AND end_date <= ?",
			[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionTrial, models.SubscriptionPendingCancellation},
			time.Now()).
		Updates(map[string]any{
			"status":     models.SubscriptionCancelled,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

/* ======================= Lawyer subscriptions =========================== */

// SubscribeLawyer replaces the lawyer's plan immediately and resets the
// token balance to the plan's limit, no payment step. The reset runs through
// the ledger so the token balance keeps its audit trail.
func (s *Service) SubscribeLawyer(lawyerID, planID uuid.UUID) (*models.User, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	plan, err := s.activePlan(tx, planID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var u models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "id = ?", lawyerID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("lawyer not found")
		}
		return nil, err
	}
	if u.Role != models.RoleLawyer {
		tx.Rollback()
		return nil, apperr.Forbidden("only lawyers hold token plans")
	}

	if err := tx.Model(&models.User{}).Where("id = ?", u.ID).
		UpdateColumn("subscription_plan", plan.Name).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	newBalance, err := s.resetTokensTx(tx, &u, plan)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	u.SubscriptionPlan = plan.Name
	u.TokenBalance = newBalance
	return &u, nil
}

// resetTokensTx moves a lawyer's token balance to the plan limit through the
// ledger, inside the caller's transaction. No entry is written when the
// balance already sits at the limit.
func (s *Service) resetTokensTx(tx *gorm.DB, u *models.User, plan *models.SubscriptionPlan) (int, error) {
	delta := plan.TokenLimit - u.TokenBalance
	if delta == 0 {
		return u.TokenBalance, nil
	}

	desc := fmt.Sprintf("token reset to plan %s limit", plan.Name)
	kind := models.EntryCredit
	amount := delta
	if delta < 0 {
		kind = models.EntryDebit
		amount = -delta
	}
	return s.ledger.ApplyTx(tx, u.ID, models.AccountTokens, amount, kind, desc)
}

// ResetTokenBalances refills the token balance of every lawyer currently on
// the named plan, one ledger movement per lawyer. Administrative batch
// operation driven by an external scheduler.
func (s *Service) ResetTokenBalances(planName string) (int, error) {
	var plan models.SubscriptionPlan
	if err := s.db.First(&plan, "name = ?", planName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.NotFound("plan not found")
		}
		return 0, err
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var lawyers []models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("role = ? AND subscription_plan = ?", models.RoleLawyer, plan.Name).
		Order("id").
		Find(&lawyers).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	reset := 0
	for i := range lawyers {
		if _, err := s.resetTokensTx(tx, &lawyers[i], &plan); err != nil {
			tx.Rollback()
			return 0, err
		}
		reset++
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return reset, nil
}

// ConsumeTokens debits a lawyer's token balance for one unit of AI-assistant
// usage. Overdrafts abort with InsufficientBalance and no writes.
func (s *Service) ConsumeTokens(lawyerID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, apperr.Invalid("amount must be positive")
	}

	var u models.User
	if err := s.db.First(&u, "id = ?", lawyerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.NotFound("lawyer not found")
		}
		return 0, err
	}
	if u.Role != models.RoleLawyer {
		return 0, apperr.Forbidden("only lawyers hold token balances")
	}

	return s.ledger.UpdateBalance(lawyerID, models.AccountTokens, amount, models.EntryDebit, reason)
}
