package models

import "time"

// DisputeRecord tracks a gateway dispute from creation to closure. Unlike the
// ledger it is updated in place: the dispute-closed event sets the final
// status and ClosedAt on the row the dispute-created event inserted.
type DisputeRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ExternalDisputeID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_dispute_records_external_dispute" json:"external_dispute_id"`
	ChargeRef         string     `gorm:"type:varchar(191);default:'';index" json:"charge_ref"`
	PaymentIntentRef  string     `gorm:"type:varchar(191);default:'';index" json:"payment_intent_ref"`
	Status            string     `gorm:"type:varchar(32);not null" json:"status"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"`
	Currency          string     `gorm:"type:char(3);not null" json:"currency"`
	Reason            string     `gorm:"type:varchar(255);default:''" json:"reason"`
	ClosedAt          *time.Time `gorm:"type:timestamp;default:null" json:"closed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
