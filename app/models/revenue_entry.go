package models

import "time"

const (
	RevenueEntryTypeCharge     = "charge"
	RevenueEntryTypeRefund     = "refund"
	RevenueEntryTypeChargeback = "chargeback"
)

// RevenueEntry is one signed row of the append-only group revenue ledger.
// The unique index on ExternalEventID is the idempotency guard: re-delivered
// gateway events fail to insert a second row and are treated as applied.
type RevenueEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ExternalEventID  string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_revenue_entries_external_event" json:"external_event_id"`
	GroupID          uint      `gorm:"not null;index" json:"group_id"`
	MembershipID     *uint     `gorm:"index" json:"membership_id,omitempty"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	EntryType        string    `gorm:"type:varchar(16);not null;index" json:"entry_type"`
	AmountGrossCents int64     `gorm:"not null" json:"amount_gross_cents"`
	AmountNetCents   int64     `gorm:"not null" json:"amount_net_cents"`
	Currency         string    `gorm:"type:char(3);not null" json:"currency"`
	OccurredAt       time.Time `gorm:"type:timestamp;not null" json:"occurred_at"`
	CouponID         *uint     `gorm:"index" json:"coupon_id,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
