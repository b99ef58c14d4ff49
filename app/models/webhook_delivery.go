package models

import "time"

// WebhookDelivery is the audit row for every verified gateway delivery. The
// unique index on ExternalEventID is inserted inside the same transaction as
// the event's side effects, so it doubles as the idempotency guard: a
// duplicate or concurrently retried delivery fails this insert and is
// acknowledged as a no-op.
//
// ProcessingError records benign skips (e.g. no membership found for an
// invoice) so reconciliation jobs can find deliveries that were acknowledged
// without being fully applied.
type WebhookDelivery struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_deliveries_external_event" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReconcileToken  string     `gorm:"type:varchar(64);default:''" json:"reconcile_token"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
