package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grouphive/grouphive/app/models"
)

// Repository provides the DB operations used by the billing service. All
// writes are expected to run on a transaction handle so one webhook event
// commits atomically or not at all.
type Repository interface {
	InsertDelivery(d *models.WebhookDelivery) (bool, error)
	MarkDeliveryProcessed(externalEventID, processingError, reconcileToken string) error

	GetMembershipByGroupUser(groupID, userID uint) (*models.Membership, error)
	GetMembershipBySubscriptionRef(subscriptionRef string) (*models.Membership, error)
	GetMembershipByChargeRefs(paymentIntentRef, customerRef string) (*models.Membership, error)
	SaveMembership(m *models.Membership) error
	SyncPaidStatusMirror(groupID, userID uint, membershipStatus string) error

	InsertRevenueEntry(e *models.RevenueEntry) (bool, error)
	FindCouponByCode(code string) (*models.Coupon, error)
	IncrementCouponRedemption(couponID uint) error

	InsertRefundRecord(r *models.RefundRecord) (bool, error)
	UpdateRefundStatus(externalRefundID, status string) error
	InsertDisputeRecord(d *models.DisputeRecord) (bool, error)
	GetDisputeRecord(externalDisputeID string) (*models.DisputeRecord, error)
	CloseDisputeRecord(externalDisputeID, status string, closedAt time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM. Pass the
// transaction handle when calling from inside Service handlers.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// InsertDelivery is the idempotency guard. The unique index on
// external_event_id plus DO NOTHING makes a duplicate (including a racing
// concurrent one) report created=false instead of failing the transaction.
func (r *gormRepository) InsertDelivery(d *models.WebhookDelivery) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_id"}},
		DoNothing: true,
	}).Create(d)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkDeliveryProcessed(externalEventID, processingError, reconcileToken string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"reconcile_token":  reconcileToken,
	}
	return r.db.Model(&models.WebhookDelivery{}).
		Where("external_event_id = ?", externalEventID).
		Updates(updates).Error
}

func (r *gormRepository) GetMembershipByGroupUser(groupID, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetMembershipBySubscriptionRef(subscriptionRef string) (*models.Membership, error) {
	var m models.Membership
	err := r.db.Where("subscription_ref = ?", subscriptionRef).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMembershipByChargeRefs resolves refund/dispute events that only carry
// charge-level references. Payment intent is the strongest link; customer ref
// is the fallback for older checkouts.
func (r *gormRepository) GetMembershipByChargeRefs(paymentIntentRef, customerRef string) (*models.Membership, error) {
	var m models.Membership
	if paymentIntentRef != "" {
		err := r.db.Where("payment_intent_ref = ?", paymentIntentRef).First(&m).Error
		if err == nil {
			return &m, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	if customerRef == "" {
		return nil, gorm.ErrRecordNotFound
	}
	err := r.db.Where("customer_ref = ?", customerRef).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) SaveMembership(m *models.Membership) error {
	return r.db.Save(m).Error
}

// SyncPaidStatusMirror writes the legacy group_members.paid_status through
// from the canonical membership status. Must run in the same transaction as
// the membership change so the mirror never diverges outside one commit.
func (r *gormRepository) SyncPaidStatusMirror(groupID, userID uint, membershipStatus string) error {
	gm, err := models.GetOrCreateGroupMember(r.db, groupID, userID)
	if err != nil {
		return err
	}
	status := models.PaidStatusForMembership(membershipStatus)
	if gm.PaidStatus == status {
		return nil
	}
	gm.PaidStatus = status
	return r.db.Save(gm).Error
}

func (r *gormRepository) InsertRevenueEntry(e *models.RevenueEntry) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_id"}},
		DoNothing: true,
	}).Create(e)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindCouponByCode(code string) (*models.Coupon, error) {
	var c models.Coupon
	err := r.db.Where("code = ?", code).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) IncrementCouponRedemption(couponID uint) error {
	return r.db.Model(&models.Coupon{}).
		Where("id = ?", couponID).
		UpdateColumn("redemption_count", gorm.Expr("redemption_count + ?", 1)).Error
}

func (r *gormRepository) InsertRefundRecord(rec *models.RefundRecord) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_refund_id"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) UpdateRefundStatus(externalRefundID, status string) error {
	return r.db.Model(&models.RefundRecord{}).
		Where("external_refund_id = ?", externalRefundID).
		Update("status", status).Error
}

func (r *gormRepository) InsertDisputeRecord(d *models.DisputeRecord) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_dispute_id"}},
		DoNothing: true,
	}).Create(d)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetDisputeRecord(externalDisputeID string) (*models.DisputeRecord, error) {
	var d models.DisputeRecord
	err := r.db.Where("external_dispute_id = ?", externalDisputeID).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *gormRepository) CloseDisputeRecord(externalDisputeID, status string, closedAt time.Time) error {
	return r.db.Model(&models.DisputeRecord{}).
		Where("external_dispute_id = ?", externalDisputeID).
		Updates(map[string]interface{}{
			"status":    status,
			"closed_at": &closedAt,
		}).Error
}
