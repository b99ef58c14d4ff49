package models

import "time"

const (
	MembershipStatusActive  = "active"
	MembershipStatusPastDue = "past_due"
)

// Membership is the canonical paid relationship between a user and a group
// tier. Rows are created on the first successful checkout or invoice event and
// updated by later gateway events; this core never deletes them.
type Membership struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	GroupID          uint       `gorm:"not null;index:ux_memberships_group_user,unique,priority:1" json:"group_id"`
	UserID           uint       `gorm:"not null;index:ux_memberships_group_user,unique,priority:2" json:"user_id"`
	TierID           string     `gorm:"type:varchar(191);default:''" json:"tier_id"`
	Status           string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	SubscriptionRef  string     `gorm:"type:varchar(191);default:'';index" json:"subscription_ref"`
	CustomerRef      string     `gorm:"type:varchar(191);default:'';index" json:"customer_ref"`
	PaymentIntentRef string     `gorm:"type:varchar(191);default:'';index" json:"payment_intent_ref"`
	LastEventID      string     `gorm:"type:varchar(191);default:''" json:"last_event_id"`
	StartedAt        *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	RenewedAt        *time.Time `gorm:"type:timestamp;default:null" json:"renewed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
