package models

import "time"

// RefundRecord is the audit row for a single gateway refund. AmountCents is
// stored positive; the signed ledger entry carries the negative amount.
type RefundRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ExternalRefundID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_refund_records_external_refund" json:"external_refund_id"`
	GroupID          uint      `gorm:"not null;index" json:"group_id"`
	MembershipID     uint      `gorm:"not null;index" json:"membership_id"`
	AmountCents      int64     `gorm:"not null" json:"amount_cents"`
	Currency         string    `gorm:"type:char(3);not null" json:"currency"`
	Status           string    `gorm:"type:varchar(32);not null" json:"status"`
	Reason           string    `gorm:"type:varchar(255);default:''" json:"reason"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
