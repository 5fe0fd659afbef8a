// Package proposals implements the request/proposal matching workflow:
// lawyers submit priced proposals on open requests, the owning client
// accepts or rejects, and a single acceptance moves the request to
// in_progress.
package proposals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/audit"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Submit creates a pending proposal for a lawyer on an open request.
// A lawyer holds at most one proposal per request, in any status.
func (s *Service) Submit(requestID, lawyerID uuid.UUID, priceCents int, note string) (*models.Proposal, error) {
	if priceCents <= 0 {
		return nil, apperr.Invalid("price must be positive")
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

	// Lock the request so a concurrent accept cannot slip in between the
	// status check and the insert.
	var lr models.LegalRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&lr, "id = ?", requestID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request not found")
		}
		return nil, err
	}
	if lr.Status != models.RequestOpen {
		tx.Rollback()
		return nil, apperr.InvalidState("request is not open")
	}

	var existing int64
	if err := tx.Model(&models.Proposal{}).
		Where("request_id = ? AND lawyer_id = ?", requestID, lawyerID).
		Count(&existing).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if existing > 0 {
		tx.Rollback()
		return nil, apperr.Conflict("you already have a proposal on this request")
	}

	p := models.Proposal{
		RequestID:  requestID,
		LawyerID:   lawyerID,
		PriceCents: priceCents,
		Note:       strings.TrimSpace(note),
		Status:     models.ProposalPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := tx.Create(&p).Error; err != nil {
		tx.Rollback()
		// Composite unique index backstops the count check under races.
		return nil, apperr.Conflict("you already have a proposal on this request")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	audit.LogRequestHistory(context.Background(), s.db, requestID, lawyerID,
		"proposal_submitted", lr.Status, lr.Status, "")
	return &p, nil
}

// UpdateContent changes the price and/or note of a pending proposal.
// Only the owning lawyer may edit, and only while the proposal is pending.
func (s *Service) UpdateContent(proposalID, lawyerID uuid.UUID, priceCents *int, note *string) (*models.Proposal, error) {
	if priceCents == nil && note == nil {
		return nil, apperr.Invalid("nothing to update")
	}
	if priceCents != nil && *priceCents <= 0 {
		return nil, apperr.Invalid("price must be positive")
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

	var p models.Proposal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", proposalID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("proposal not found")
		}
		return nil, err
	}
	if p.LawyerID != lawyerID {
		tx.Rollback()
		return nil, apperr.Forbidden("not your proposal")
	}
	if p.Status != models.ProposalPending {
		tx.Rollback()
		return nil, apperr.InvalidState("proposal is immutable once decided")
	}

	patch := map[string]any{"updated_at": time.Now()}
	if priceCents != nil {
		patch["price_cents"] = *priceCents
		p.PriceCents = *priceCents
	}
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		patch["note"] = trimmed
		p.Note = trimmed
	}
	if err := tx.Model(&models.Proposal{}).Where("id = ?", p.ID).
		Updates(patch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Decide applies the owning client's accept or reject to a pending proposal.
// Accepting moves the request to in_progress; the FOR UPDATE lock on the
// request row serializes competing accepts so at most one proposal per
// request ever reaches accepted. Sibling pending proposals are left pending:
// rejection stays an explicit client action.
func (s *Service) Decide(requestID, clientID, proposalID uuid.UUID, decision Decision) (*models.Proposal, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return nil, apperr.Invalid("decision must be accept or reject")
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

	var lr models.LegalRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&lr, "id = ?", requestID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request not found")
		}
		return nil, err
	}
	if lr.ClientID != clientID {
		tx.Rollback()
		return nil, apperr.Forbidden("not your request")
	}

	var p models.Proposal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", proposalID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("proposal not found")
		}
		return nil, err
	}
	if p.RequestID != requestID {
		tx.Rollback()
		return nil, apperr.InvalidState("proposal does not belong to this request")
	}
	if p.Status != models.ProposalPending {
		tx.Rollback()
		return nil, apperr.InvalidState("proposal already decided")
	}

	if decision == DecisionReject {
		if err := tx.Model(&models.Proposal{}).Where("id = ?", p.ID).
			Updates(map[string]any{
				"status":     models.ProposalRejected,
				"updated_at": time.Now(),
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		p.Status = models.ProposalRejected
		audit.LogRequestHistory(context.Background(), s.db, requestID, clientID,
			"proposal_rejected", lr.Status, lr.Status, "")
		return &p, nil
	}

	// Accept: request must still be open, otherwise another proposal won.
	if lr.Status != models.RequestOpen {
		tx.Rollback()
		return nil, apperr.InvalidState("request is not open")
	}

	if err := tx.Model(&models.Proposal{}).Where("id = ?", p.ID).
		Updates(map[string]any{
			"status":     models.ProposalAccepted,
			"updated_at": time.Now(),
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now()
	if err := tx.Model(&models.LegalRequest{}).Where("id = ?", lr.ID).
		Updates(map[string]any{
			"status":               models.RequestInProgress,
			"engaged_at":           now,
			"accepted_proposal_id": p.ID,
			"accepted_lawyer_id":   p.LawyerID,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	p.Status = models.ProposalAccepted
	audit.LogRequestHistory(context.Background(), s.db, requestID, clientID,
		"proposal_accepted", models.RequestOpen, models.RequestInProgress, "")
	return &p, nil
}
