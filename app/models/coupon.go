package models

import "time"

// Coupon is a discount code whose redemption counter is incremented
// transactionally with the ledger entry that consumed it.
type Coupon struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Code                string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_coupons_code" json:"code"`
	ExternalPromotionID string    `gorm:"type:varchar(191);default:'';index" json:"external_promotion_id"`
	RedemptionCount     uint      `gorm:"not null;default:0" json:"redemption_count"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
