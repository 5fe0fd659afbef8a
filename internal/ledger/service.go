// Package ledger is the single writer path for every balance movement.
// Cash balances (settlement, fees) and lawyer token balances (AI usage
// allowance) both go through UpdateBalance; nothing else in the codebase
// writes users.balance_cents or users.token_balance.
package ledger

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexmarket/lexmarket-backend/pkg/apperr"
	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// UpdateBalance applies one credit or debit to a user's account and returns
// the new cached balance. The affected user row is locked FOR UPDATE so two
// concurrent movements for the same user serialize; a debit that would take
// the balance below zero aborts with no writes.
func (s *Service) UpdateBalance(userID uuid.UUID, account models.LedgerAccount, amountCents int, kind models.EntryKind, description string) (int, error) {
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

	newBalance, err := s.ApplyTx(tx, userID, account, amountCents, kind, description)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ApplyTx is UpdateBalance inside a caller-owned transaction. Settlement and
// subscription flows compose it so their multi-entry movements commit or roll
// back as one unit. The caller keeps ownership of tx: ApplyTx never commits
// or rolls back.
func (s *Service) ApplyTx(tx *gorm.DB, userID uuid.UUID, account models.LedgerAccount, amountCents int, kind models.EntryKind, description string) (int, error) {
	if amountCents <= 0 {
		return 0, apperr.Invalid("amount must be positive")
	}
	switch kind {
	case models.EntryCredit, models.EntryDebit:
	default:
		return 0, apperr.Invalid("unknown entry kind")
	}
	switch account {
	case models.AccountCash, models.AccountTokens:
	default:
		return 0, apperr.Invalid("unknown ledger account")
	}

	// Lock the user row; this serializes all movements for the user.
	var u models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.NotFound("user not found")
		}
		return 0, err
	}

	signed := amountCents
	if kind == models.EntryDebit {
		signed = -amountCents
	}

	current := u.BalanceCents
	column := "balance_cents"
	if account == models.AccountTokens {
		current = u.TokenBalance
		column = "token_balance"
	}

	newBalance := current + signed
	if newBalance < 0 {
		return 0, apperr.InsufficientBalance("debit exceeds current balance")
	}

	entry := models.LedgerEntry{
		UserID:      userID,
		Account:     account,
		AmountCents: signed,
		Kind:        kind,
		Description: description,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn(column, newBalance).Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Balance returns the cached balance for one account of a user.
func (s *Service) Balance(userID uuid.UUID, account models.LedgerAccount) (int, error) {
	var u models.User
	if err := s.db.First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.NotFound("user not found")
		}
		return 0, err
	}
	if account == models.AccountTokens {
		return u.TokenBalance, nil
	}
	return u.BalanceCents, nil
}

// History returns ledger entries for a user, newest first.
func (s *Service) History(userID uuid.UUID, account models.LedgerAccount, page, size int) ([]models.LedgerEntry, int64, error) {
	q := s.db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND account = ?", userID, account)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.LedgerEntry
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	if rows == nil {
		rows = []models.LedgerEntry{}
	}
	return rows, total, nil
}
