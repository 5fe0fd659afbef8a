// Package settlement converts one accepted proposal into exactly one
// Transaction, moving funds between client, lawyer, and platform commission
// through the ledger in a single atomic unit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexmarket/lexmarket-backend/internal/ledger"
	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/audit"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

// commissionRate is the platform's fixed cut of a settled price.
const commissionRate = 0.10

// CommissionFor rounds the platform cut for a price in cents.
// Payout is always price minus commission, so the two sum to the price
// exactly for every price.
func CommissionFor(priceCents int) int {
	return int(math.Round(float64(priceCents) * commissionRate))
}

type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
}

func NewService(db *gorm.DB, lg *ledger.Service) *Service {
	return &Service{db: db, ledger: lg}
}

// Settle turns the accepted proposal into a Transaction and moves the money:
// the client is debited the full price, the lawyer credited the payout, and
// the difference stays with the platform as commission. Everything happens
// in one database transaction; an insufficient client balance aborts the
// whole unit before any write commits. A second call for the same proposal
// returns Conflict.
func (s *Service) Settle(proposalID, clientID uuid.UUID) (*models.Transaction, error) {
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

	// Lock the proposal row; concurrent settles for the same proposal queue
	// here and the loser sees the existing transaction below.
	var p models.Proposal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", proposalID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("proposal not found")
		}
		return nil, err
	}
	if p.Status != models.ProposalAccepted {
		tx.Rollback()
		return nil, apperr.InvalidState("proposal is not accepted")
	}

	var lr models.LegalRequest
	if err := tx.First(&lr, "id = ?", p.RequestID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if lr.ClientID != clientID {
		tx.Rollback()
		return nil, apperr.Forbidden("not your request")
	}

	var existing int64
	if err := tx.Model(&models.Transaction{}).
		Where("proposal_id = ?", p.ID).
		Count(&existing).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if existing > 0 {
		tx.Rollback()
		return nil, apperr.Conflict("proposal already settled")
	}

	commission := CommissionFor(p.PriceCents)
	payout := p.PriceCents - commission

	rec := models.Transaction{
		ProposalID:      p.ID,
		RequestID:       lr.ID,
		ClientID:        clientID,
		LawyerID:        p.LawyerID,
		AmountCents:     p.PriceCents,
		CommissionCents: commission,
	}
	if err := tx.Create(&rec).Error; err != nil {
		tx.Rollback()
		// Unique index on proposal_id catches the race the count missed.
		return nil, apperr.Conflict("proposal already settled")
	}

	desc := fmt.Sprintf("settlement for request %s", lr.ID)
	if _, err := s.ledger.ApplyTx(tx, clientID, models.AccountCash,
		p.PriceCents, models.EntryDebit, desc); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := s.ledger.ApplyTx(tx, p.LawyerID, models.AccountCash,
		payout, models.EntryCredit, desc); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	audit.LogRequestHistory(context.Background(), s.db, lr.ID, clientID,
		"settled", lr.Status, lr.Status, "")
	return &rec, nil
}

// Transaction loads the settlement record for a proposal.
func (s *Service) Transaction(proposalID uuid.UUID) (*models.Transaction, error) {
	var rec models.Transaction
	if err := s.db.First(&rec, "proposal_id = ?", proposalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("transaction not found")
		}
		return nil, err
	}
	return &rec, nil
}
