package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleClient Role = "client"
	RoleLawyer Role = "lawyer"
)

// RequestStatus defines lifecycle states for a legal request.
type RequestStatus string

const (
	RequestOpen       RequestStatus = "open"
	RequestInProgress RequestStatus = "in_progress"
	RequestClosed     RequestStatus = "closed"
)

// ProposalStatus defines lifecycle states for a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// LedgerAccount selects which cached balance an entry moves.
type LedgerAccount string

const (
	AccountCash   LedgerAccount = "cash"
	AccountTokens LedgerAccount = "tokens"
)

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

// SubscriptionStatus captures the lifecycle of a client subscription.
type SubscriptionStatus string

const (
	SubscriptionPendingPayment      SubscriptionStatus = "pending_payment"
	SubscriptionActive              SubscriptionStatus = "active"
	SubscriptionTrial               SubscriptionStatus = "trial"
	SubscriptionPendingCancellation SubscriptionStatus = "pending_cancellation"
	SubscriptionCancelled           SubscriptionStatus = "cancelled"
)

// LiveSubscriptionStatuses are the statuses that count toward the
// one-live-subscription-per-client rule.
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionPendingPayment,
	SubscriptionActive,
	SubscriptionTrial,
	SubscriptionPendingCancellation,
}

/* =============================== Entities =============================== */

// User represents a client or lawyer. The cached balances are only ever
// written by the ledger; everything else reads them.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	Jurisdiction string
	BarNumber    string
	BalanceCents int `gorm:"not null;default:0"`
	CreatedAt    time.Time

	// Lawyer-only subscription fields (direct replace, not dated)
	SubscriptionPlan string `gorm:"type:varchar(60)"`
	TokenBalance     int    `gorm:"not null;default:0"`
}

// LegalRequest represents a legal request posted by a client.
type LegalRequest struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClientID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Title       string    `gorm:"not null"`
	Category    string    `gorm:"not null"`
	Description string
	Status      RequestStatus `gorm:"type:varchar(20);default:'open'"`
	CreatedAt   time.Time

	// Relations
	Proposals []Proposal `gorm:"foreignKey:RequestID"`

	// Metadata for an engaged request
	EngagedAt          *time.Time
	AcceptedProposalID uuid.UUID
	AcceptedLawyerID   uuid.UUID
}

// Proposal represents a lawyer's priced offer on a request.
// A lawyer holds at most one proposal per request (composite unique index).
type Proposal struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;index:idx_request_lawyer,unique"`
	LawyerID   uuid.UUID `gorm:"type:uuid;not null;index:idx_request_lawyer,unique"`
	PriceCents int       `gorm:"not null"`
	Note       string
	Status     ProposalStatus `gorm:"type:varchar(20);default:'pending'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transaction is the immutable settlement record for one accepted proposal.
// The unique index on ProposalID rules out double settlement at the storage
// layer even when two callers race.
type Transaction struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProposalID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	RequestID       uuid.UUID `gorm:"type:uuid;not null;index"`
	ClientID        uuid.UUID `gorm:"type:uuid;not null;index"`
	LawyerID        uuid.UUID `gorm:"type:uuid;not null;index"`
	AmountCents     int       `gorm:"not null"` // stored in cents to avoid float issues
	CommissionCents int       `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null;default:now()"`
}

// LedgerEntry is one immutable, append-only balance change.
// AmountCents is signed: positive for credits, negative for debits.
type LedgerEntry struct {
	ID          uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID     `gorm:"type:uuid;not null;index"`
	Account     LedgerAccount `gorm:"type:varchar(10);not null;index"`
	AmountCents int           `gorm:"not null"`
	Kind        EntryKind     `gorm:"type:varchar(10);not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null;default:now()"`
}

// SubscriptionPlan is a catalog row shared by client and lawyer plans.
type SubscriptionPlan struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string    `gorm:"uniqueIndex;not null"`
	PriceCents    int       `gorm:"not null"`
	TokenLimit    int       `gorm:"not null;default:0"`
	Features      string    `gorm:"type:text"`
	Active        bool      `gorm:"not null;default:true"`
	StripePriceID string
	CreatedAt     time.Time
}

// ClientSubscription is a dated, paid subscription row for a client.
// At most one row per client may be in a live status at any time.
type ClientSubscription struct {
	ID               uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID          `gorm:"type:uuid;not null;index"`
	PlanID           uuid.UUID          `gorm:"type:uuid;not null"`
	Status           SubscriptionStatus `gorm:"type:varchar(30);not null;default:'pending_payment'"`
	StartDate        *time.Time
	EndDate          *time.Time
	PaymentProvider  string `gorm:"type:varchar(30)"`
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Plan SubscriptionPlan `gorm:"foreignKey:PlanID"`
}

// RequestHistory is an audit log entry for important request changes.
type RequestHistory struct {
	ID        uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RequestID uuid.UUID     `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID     `gorm:"type:uuid;not null;index"`  // who performed the action (client/lawyer/system)
	Action    string        `gorm:"type:varchar(50);not null"` // e.g. created, proposal_accepted, settled
	OldStatus RequestStatus `gorm:"type:varchar(20)"`
	NewStatus RequestStatus `gorm:"type:varchar(20)"`
	Reason    string        `gorm:"type:text"`
	CreatedAt time.Time     `gorm:"autoCreateTime"`
}
