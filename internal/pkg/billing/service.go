package billing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grouphive/grouphive/app/models"
)

// Outcome classifies what processing a delivery did. The HTTP layer and the
// metrics counters key off these values.
type Outcome string

const (
	// OutcomeApplied means the event's side effects were committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the idempotency guard matched a previous
	// delivery; nothing was written.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means the event was acknowledged but could not be fully
	// applied (e.g. unresolved linkage); the delivery row is flagged for
	// reconciliation.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIgnored means the event type is outside the handled set.
	OutcomeIgnored Outcome = "ignored"
)

// Result is the outcome of processing one delivery plus a human-readable
// detail for skips.
type Result struct {
	Outcome Outcome
	Detail  string
}

// Service reconciles decoded gateway events into memberships, the revenue
// ledger and the audit tables. Every event is applied inside one transaction
// guarded by the delivery's unique external event id.
type Service struct {
	db *gorm.DB
}

// NewService creates a billing service from a GORM DB handle.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Process applies one decoded event. Duplicate deliveries, including
// concurrent retries of the same event, come back as OutcomeDuplicate without
// side effects. Errors mean the transaction rolled back completely and the
// sender should retry.
func (s *Service) Process(ctx context.Context, rawPayload []byte, ev Event) (Result, error) {
	if _, ok := ev.(UnknownEvent); ok {
		log.Printf("billing: ignoring unhandled event type %s (id=%s)", ev.Type(), ev.ExternalID())
		return Result{Outcome: OutcomeIgnored}, nil
	}

	result := Result{Outcome: OutcomeApplied}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		created, err := repo.InsertDelivery(&models.WebhookDelivery{
			ExternalEventID: ev.ExternalID(),
			EventType:       ev.Type(),
			PayloadJSON:     string(rawPayload),
		})
		if err != nil {
			return err
		}
		if !created {
			result = Result{Outcome: OutcomeDuplicate}
			return nil
		}

		skipReason, err := s.apply(repo, ev)
		if err != nil {
			return err
		}

		reconcileToken := ""
		if skipReason != "" {
			reconcileToken = uuid.NewString()
			result = Result{Outcome: OutcomeSkipped, Detail: skipReason}
			log.Printf("billing: event %s acknowledged without full application: %s (reconcile_token=%s)",
				ev.ExternalID(), skipReason, reconcileToken)
		}
		return repo.MarkDeliveryProcessed(ev.ExternalID(), skipReason, reconcileToken)
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// apply routes an event to its handler. The sealed Event interface keeps this
// switch exhaustive; the default arm only fires if a new variant is added
// without a handler.
func (s *Service) apply(repo Repository, ev Event) (string, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(repo, e)
	case InvoicePaid:
		return s.applyInvoicePaid(repo, e)
	case InvoiceFailed:
		return s.applyInvoiceFailed(repo, e)
	case ChargeRefunded:
		return s.applyChargeRefunded(repo, e)
	case DisputeCreated:
		return s.applyDisputeCreated(repo, e)
	case DisputeClosed:
		return s.applyDisputeClosed(repo, e)
	default:
		return "", fmt.Errorf("no handler for event type %T", ev)
	}
}

func (s *Service) applyCheckoutCompleted(repo Repository, ev CheckoutCompleted) (string, error) {
	if !ev.Paid {
		return "checkout session completed without successful payment", nil
	}
	if ev.GroupID == 0 || ev.UserID == 0 {
		return "checkout metadata missing group/user linkage", nil
	}

	m, err := s.activateMembership(repo, ev)
	if err != nil {
		return "", err
	}
	if err := repo.SyncPaidStatusMirror(ev.GroupID, ev.UserID, m.Status); err != nil {
		return "", err
	}

	// Subscription-mode checkouts are booked by their first invoice event;
	// ledgering both would double count.
	if ev.Mode != CheckoutModePayment || ev.AmountTotal <= 0 {
		return "", nil
	}

	entry := newChargeEntry(ev.EventID, ev.GroupID, ev.UserID, &m.ID, ev.AmountTotal, ev.Currency, ev.OccurredAt)
	var coupon *models.Coupon
	if ev.CouponCode != "" {
		coupon, err = repo.FindCouponByCode(ev.CouponCode)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return "", err
			}
			log.Printf("billing: checkout %s names unknown coupon %q", ev.EventID, ev.CouponCode)
			coupon = nil
		}
	}
	if coupon != nil {
		entry.CouponID = &coupon.ID
	}

	inserted, err := repo.InsertRevenueEntry(entry)
	if err != nil {
		return "", err
	}
	if inserted && coupon != nil {
		// The ledger insert succeeding proves this charge was unseen, so the
		// counter cannot double count on redelivery.
		if err := repo.IncrementCouponRedemption(coupon.ID); err != nil {
			return "", err
		}
	}
	if ev.PromoCodeSeen != "" && ev.PromoCodeSeen != ev.CouponCode {
		log.Printf("billing: checkout %s discount breakdown names %q, metadata names %q",
			ev.EventID, ev.PromoCodeSeen, ev.CouponCode)
	}
	return "", nil
}

func (s *Service) activateMembership(repo Repository, ev CheckoutCompleted) (*models.Membership, error) {
	m, err := repo.GetMembershipByGroupUser(ev.GroupID, ev.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		started := ev.OccurredAt
		m = &models.Membership{
			GroupID:   ev.GroupID,
			UserID:    ev.UserID,
			StartedAt: &started,
		}
	}
	m.Status = models.MembershipStatusActive
	m.LastEventID = ev.EventID
	if ev.TierID != "" {
		m.TierID = ev.TierID
	}
	if ev.SubscriptionRef != "" {
		m.SubscriptionRef = ev.SubscriptionRef
	}
	if ev.CustomerRef != "" {
		m.CustomerRef = ev.CustomerRef
	}
	if ev.PaymentIntentRef != "" {
		m.PaymentIntentRef = ev.PaymentIntentRef
	}
	if err := repo.SaveMembership(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) applyInvoicePaid(repo Repository, ev InvoicePaid) (string, error) {
	if ev.SubscriptionRef == "" {
		return "invoice is not linked to a subscription", nil
	}
	m, err := repo.GetMembershipBySubscriptionRef(ev.SubscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Sprintf("no membership for subscription %s", ev.SubscriptionRef), nil
		}
		return "", err
	}

	renewed := ev.OccurredAt
	m.Status = models.MembershipStatusActive
	m.RenewedAt = &renewed
	m.LastEventID = ev.EventID
	if m.PaymentIntentRef == "" && ev.PaymentIntentRef != "" {
		m.PaymentIntentRef = ev.PaymentIntentRef
	}
	if err := repo.SaveMembership(m); err != nil {
		return "", err
	}
	if err := repo.SyncPaidStatusMirror(m.GroupID, m.UserID, m.Status); err != nil {
		return "", err
	}

	if ev.AmountPaidCents <= 0 {
		return "", nil
	}
	entry := newChargeEntry(ev.EventID, m.GroupID, m.UserID, &m.ID, ev.AmountPaidCents, ev.Currency, ev.OccurredAt)
	if _, err := repo.InsertRevenueEntry(entry); err != nil {
		return "", err
	}
	return "", nil
}

func (s *Service) applyInvoiceFailed(repo Repository, ev InvoiceFailed) (string, error) {
	if ev.SubscriptionRef == "" {
		return "invoice is not linked to a subscription", nil
	}
	m, err := repo.GetMembershipBySubscriptionRef(ev.SubscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The failure can outrun the checkout event; there is nothing to
			// move to past_due yet.
			return fmt.Sprintf("no membership for subscription %s", ev.SubscriptionRef), nil
		}
		return "", err
	}

	m.Status = models.MembershipStatusPastDue
	m.LastEventID = ev.EventID
	if err := repo.SaveMembership(m); err != nil {
		return "", err
	}
	return "", repo.SyncPaidStatusMirror(m.GroupID, m.UserID, m.Status)
}

func (s *Service) applyChargeRefunded(repo Repository, ev ChargeRefunded) (string, error) {
	if len(ev.Refunds) == 0 {
		return "charge.refunded carried no refunds", nil
	}
	m, err := repo.GetMembershipByChargeRefs(ev.PaymentIntentRef, ev.CustomerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Sprintf("no membership for refunded charge %s", ev.ChargeRef), nil
		}
		return "", err
	}

	// Deliveries carry the charge's cumulative refund list, so refunds from a
	// previous event reappear here. Each refund id is guarded on its own.
	for _, ref := range ev.Refunds {
		inserted, err := repo.InsertRefundRecord(&models.RefundRecord{
			ExternalRefundID: ref.ExternalID,
			GroupID:          m.GroupID,
			MembershipID:     m.ID,
			AmountCents:      ref.AmountCents,
			Currency:         NormalizeCurrency(ref.Currency),
			Status:           ref.Status,
			Reason:           ref.Reason,
		})
		if err != nil {
			return "", err
		}
		if !inserted {
			if err := repo.UpdateRefundStatus(ref.ExternalID, ref.Status); err != nil {
				return "", err
			}
			continue
		}
		entry := newRefundEntry(ref.ExternalID, m.GroupID, m.UserID, &m.ID, ref.AmountCents, ref.Currency, ev.OccurredAt)
		if _, err := repo.InsertRevenueEntry(entry); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (s *Service) applyDisputeCreated(repo Repository, ev DisputeCreated) (string, error) {
	inserted, err := repo.InsertDisputeRecord(&models.DisputeRecord{
		ExternalDisputeID: ev.DisputeID,
		ChargeRef:         ev.ChargeRef,
		PaymentIntentRef:  ev.PaymentIntentRef,
		Status:            ev.Status,
		AmountCents:       ev.AmountCents,
		Currency:          NormalizeCurrency(ev.Currency),
		Reason:            ev.Reason,
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		// The closed event arrived first and created the row; its final
		// status must not be regressed to the opening one.
		log.Printf("billing: dispute %s already recorded, keeping existing status", ev.DisputeID)
	}
	return "", nil
}

func (s *Service) applyDisputeClosed(repo Repository, ev DisputeClosed) (string, error) {
	closedAt := ev.OccurredAt
	_, err := repo.GetDisputeRecord(ev.DisputeID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
		// Out-of-order closure before the created event. Create the row here;
		// a late created event will hit the unique index and be dropped.
		if _, err := repo.InsertDisputeRecord(&models.DisputeRecord{
			ExternalDisputeID: ev.DisputeID,
			ChargeRef:         ev.ChargeRef,
			PaymentIntentRef:  ev.PaymentIntentRef,
			Status:            ev.Status,
			AmountCents:       ev.AmountCents,
			Currency:          NormalizeCurrency(ev.Currency),
			Reason:            ev.Reason,
			ClosedAt:          &closedAt,
		}); err != nil {
			return "", err
		}
	} else if err := repo.CloseDisputeRecord(ev.DisputeID, ev.Status, closedAt); err != nil {
		return "", err
	}

	if !ev.Lost() {
		return "", nil
	}

	m, err := repo.GetMembershipByChargeRefs(ev.PaymentIntentRef, "")
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Sprintf("no membership for lost dispute %s", ev.DisputeID), nil
		}
		return "", err
	}
	// Keyed by the closed event's own id, distinct from the created event's,
	// so the chargeback posts exactly once.
	entry := newChargebackEntry(ev.EventID, m.GroupID, m.UserID, &m.ID, ev.AmountCents, ev.Currency, ev.OccurredAt)
	if _, err := repo.InsertRevenueEntry(entry); err != nil {
		return "", err
	}
	return "", nil
}
