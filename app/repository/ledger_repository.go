package repository

import (
	"gorm.io/gorm"

	"github.com/grouphive/grouphive/app/models"
)

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a read-side ledger repository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) GroupSummary(groupID uint) (*LedgerSummary, error) {
	summary := &LedgerSummary{GroupID: groupID}

	rows := []struct {
		EntryType string
		Total     int64
		Count     int64
	}{}
	err := r.db.Model(&models.RevenueEntry{}).
		Select("entry_type, COALESCE(SUM(amount_gross_cents), 0) AS total, COUNT(*) AS count").
		Where("group_id = ?", groupID).
		Group("entry_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		summary.EntryCount += row.Count
		summary.BalanceCents += row.Total
		switch row.EntryType {
		case models.RevenueEntryTypeCharge:
			summary.ChargeCents = row.Total
		case models.RevenueEntryTypeRefund:
			summary.RefundCents = row.Total
		case models.RevenueEntryTypeChargeback:
			summary.ChargebackCents = row.Total
		}
	}
	return summary, nil
}

func (r *ledgerRepository) MembershipBalance(membershipID uint) (int64, error) {
	var balance int64
	err := r.db.Model(&models.RevenueEntry{}).
		Select("COALESCE(SUM(amount_gross_cents), 0)").
		Where("membership_id = ?", membershipID).
		Scan(&balance).Error
	return balance, err
}

func (r *ledgerRepository) ListEntriesByGroup(groupID uint, limit int) ([]models.RevenueEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.RevenueEntry
	err := r.db.Where("group_id = ?", groupID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
