package repository

import "github.com/grouphive/grouphive/app/models"

// Read-side repositories for the rest of the platform. Other features must
// consume membership and ledger state through these instead of joining the
// billing tables directly.

// MembershipRepository exposes canonical membership state.
type MembershipRepository interface {
	GetByGroupAndUser(groupID, userID uint) (*models.Membership, error)
	ListByGroup(groupID uint) ([]models.Membership, error)
	// GetPaidStatus returns the legacy mirror value older features read.
	GetPaidStatus(groupID, userID uint) (string, error)
}

// LedgerSummary aggregates a group's revenue ledger.
type LedgerSummary struct {
	GroupID         uint  `json:"group_id"`
	BalanceCents    int64 `json:"balance_cents"`
	ChargeCents     int64 `json:"charge_cents"`
	RefundCents     int64 `json:"refund_cents"`
	ChargebackCents int64 `json:"chargeback_cents"`
	EntryCount      int64 `json:"entry_count"`
}

// LedgerRepository exposes aggregated and raw ledger rows.
type LedgerRepository interface {
	GroupSummary(groupID uint) (*LedgerSummary, error)
	MembershipBalance(membershipID uint) (int64, error)
	ListEntriesByGroup(groupID uint, limit int) ([]models.RevenueEntry, error)
}

// Repositories bundles all repository instances.
type Repositories struct {
	Membership MembershipRepository
	Ledger     LedgerRepository
}
