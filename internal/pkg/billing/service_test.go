package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/grouphive/grouphive/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Membership{},
		&models.GroupMember{},
		&models.RevenueEntry{},
		&models.Coupon{},
		&models.RefundRecord{},
		&models.DisputeRecord{},
		&models.WebhookDelivery{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testHeader(id, eventType string) eventHeader {
	return eventHeader{
		EventID:    id,
		EventType:  eventType,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func paidCheckout(eventID string) CheckoutCompleted {
	return CheckoutCompleted{
		eventHeader:      testHeader(eventID, EventTypeCheckoutCompleted),
		Mode:             CheckoutModePayment,
		Paid:             true,
		AmountTotal:      2500,
		Currency:         "eur",
		CustomerRef:      "cus_1",
		PaymentIntentRef: "pi_1",
		GroupID:          7,
		UserID:           42,
		TierID:           "tier_gold",
	}
}

func mustProcess(t *testing.T, svc *Service, ev Event, want Outcome) Result {
	t.Helper()
	res, err := svc.Process(context.Background(), []byte(`{}`), ev)
	if err != nil {
		t.Fatalf("Process(%s) failed: %v", ev.ExternalID(), err)
	}
	if res.Outcome != want {
		t.Fatalf("Process(%s) outcome = %q, want %q (detail: %s)", ev.ExternalID(), res.Outcome, want, res.Detail)
	}
	return res
}

func membershipByGroupUser(t *testing.T, db *gorm.DB, groupID, userID uint) *models.Membership {
	t.Helper()
	var m models.Membership
	if err := db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error; err != nil {
		t.Fatalf("membership lookup failed: %v", err)
	}
	return &m
}

func mirrorStatus(t *testing.T, db *gorm.DB, groupID, userID uint) string {
	t.Helper()
	var gm models.GroupMember
	if err := db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&gm).Error; err != nil {
		t.Fatalf("mirror lookup failed: %v", err)
	}
	return gm.PaidStatus
}

func ledgerBalance(t *testing.T, db *gorm.DB, membershipID uint) int64 {
	t.Helper()
	var balance int64
	err := db.Model(&models.RevenueEntry{}).
		Select("COALESCE(SUM(amount_gross_cents), 0)").
		Where("membership_id = ?", membershipID).
		Scan(&balance).Error
	if err != nil {
		t.Fatalf("balance query failed: %v", err)
	}
	return balance
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestCheckoutCompletedActivatesMembershipAndLedgersCharge(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeApplied)

	m := membershipByGroupUser(t, db, 7, 42)
	if m.Status != models.MembershipStatusActive {
		t.Fatalf("expected active membership, got %q", m.Status)
	}
	if m.CustomerRef != "cus_1" || m.PaymentIntentRef != "pi_1" || m.TierID != "tier_gold" {
		t.Fatalf("membership refs not recorded: %+v", m)
	}
	if m.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}
	if got := mirrorStatus(t, db, 7, 42); got != models.MemberPaidStatusPaying {
		t.Fatalf("expected mirror 'paying', got %q", got)
	}

	var entry models.RevenueEntry
	if err := db.Where("external_event_id = ?", "evt_1").First(&entry).Error; err != nil {
		t.Fatalf("ledger entry missing: %v", err)
	}
	if entry.EntryType != models.RevenueEntryTypeCharge || entry.AmountGrossCents != 2500 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Currency != "EUR" {
		t.Fatalf("expected normalized currency EUR, got %q", entry.Currency)
	}
	if entry.AmountNetCents != entry.AmountGrossCents {
		t.Fatalf("net should default to gross")
	}
}

func TestDuplicateCheckoutDeliveryIsNoOp(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeApplied)
	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeDuplicate)

	if n := countRows(t, db, &models.Membership{}); n != 1 {
		t.Fatalf("expected 1 membership, got %d", n)
	}
	if n := countRows(t, db, &models.RevenueEntry{}); n != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", n)
	}
}

func TestCouponIncrementsExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	if err := db.Create(&models.Coupon{Code: "SPRING", ExternalPromotionID: "promo_abc"}).Error; err != nil {
		t.Fatalf("coupon seed failed: %v", err)
	}

	checkout := paidCheckout("evt_1")
	checkout.CouponCode = "SPRING"
	mustProcess(t, svc, checkout, OutcomeApplied)
	mustProcess(t, svc, checkout, OutcomeDuplicate)

	var c models.Coupon
	if err := db.Where("code = ?", "SPRING").First(&c).Error; err != nil {
		t.Fatalf("coupon lookup failed: %v", err)
	}
	if c.RedemptionCount != 1 {
		t.Fatalf("expected redemption count 1, got %d", c.RedemptionCount)
	}

	var entry models.RevenueEntry
	if err := db.Where("external_event_id = ?", "evt_1").First(&entry).Error; err != nil {
		t.Fatalf("ledger entry missing: %v", err)
	}
	if entry.CouponID == nil || *entry.CouponID != c.ID {
		t.Fatalf("expected entry linked to coupon %d, got %+v", c.ID, entry.CouponID)
	}
}

func TestSubscriptionCheckoutDefersLedgerToInvoice(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	checkout := paidCheckout("evt_1")
	checkout.Mode = CheckoutModeSubscription
	checkout.SubscriptionRef = "sub_1"
	mustProcess(t, svc, checkout, OutcomeApplied)

	if n := countRows(t, db, &models.RevenueEntry{}); n != 0 {
		t.Fatalf("subscription checkout must not be ledgered, got %d entries", n)
	}

	invoice := InvoicePaid{
		eventHeader:     testHeader("evt_2", EventTypeInvoicePaid),
		InvoiceRef:      "in_1",
		SubscriptionRef: "sub_1",
		AmountPaidCents: 2500,
		Currency:        "eur",
	}
	mustProcess(t, svc, invoice, OutcomeApplied)
	mustProcess(t, svc, invoice, OutcomeDuplicate)

	if n := countRows(t, db, &models.RevenueEntry{}); n != 1 {
		t.Fatalf("expected exactly 1 entry from the invoice, got %d", n)
	}
	m := membershipByGroupUser(t, db, 7, 42)
	if m.RenewedAt == nil {
		t.Fatalf("expected renewed_at to be set by invoice")
	}
}

func TestInvoiceFailureAndRecovery(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	checkout := paidCheckout("evt_1")
	checkout.Mode = CheckoutModeSubscription
	checkout.SubscriptionRef = "sub_1"
	mustProcess(t, svc, checkout, OutcomeApplied)

	failed := InvoiceFailed{
		eventHeader:     testHeader("evt_2", EventTypeInvoiceFailed),
		InvoiceRef:      "in_1",
		SubscriptionRef: "sub_1",
	}
	mustProcess(t, svc, failed, OutcomeApplied)

	m := membershipByGroupUser(t, db, 7, 42)
	if m.Status != models.MembershipStatusPastDue {
		t.Fatalf("expected past_due, got %q", m.Status)
	}
	if got := mirrorStatus(t, db, 7, 42); got != models.MemberPaidStatusGrace {
		t.Fatalf("expected mirror 'grace', got %q", got)
	}

	recovered := InvoicePaid{
		eventHeader:     testHeader("evt_3", EventTypeInvoicePaid),
		InvoiceRef:      "in_2",
		SubscriptionRef: "sub_1",
		AmountPaidCents: 2500,
		Currency:        "eur",
	}
	mustProcess(t, svc, recovered, OutcomeApplied)

	m = membershipByGroupUser(t, db, 7, 42)
	if m.Status != models.MembershipStatusActive {
		t.Fatalf("expected active after recovery, got %q", m.Status)
	}
	if got := mirrorStatus(t, db, 7, 42); got != models.MemberPaidStatusPaying {
		t.Fatalf("expected mirror 'paying' after recovery, got %q", got)
	}
}

func TestInvoiceForUnknownSubscriptionIsFlaggedSkip(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	failed := InvoiceFailed{
		eventHeader:     testHeader("evt_1", EventTypeInvoiceFailed),
		InvoiceRef:      "in_1",
		SubscriptionRef: "sub_missing",
	}
	res := mustProcess(t, svc, failed, OutcomeSkipped)
	if res.Detail == "" {
		t.Fatalf("expected a skip detail")
	}

	var delivery models.WebhookDelivery
	if err := db.Where("external_event_id = ?", "evt_1").First(&delivery).Error; err != nil {
		t.Fatalf("delivery row missing: %v", err)
	}
	if delivery.ProcessingError == "" || delivery.ReconcileToken == "" {
		t.Fatalf("expected delivery flagged for reconciliation, got %+v", delivery)
	}
	if delivery.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}

	// A later redelivery is still a duplicate: acknowledged, never re-applied.
	mustProcess(t, svc, failed, OutcomeDuplicate)
}

func TestChargeRefundedBooksEachRefundOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeApplied)
	m := membershipByGroupUser(t, db, 7, 42)

	refunded := ChargeRefunded{
		eventHeader:      testHeader("evt_2", EventTypeChargeRefunded),
		ChargeRef:        "ch_1",
		PaymentIntentRef: "pi_1",
		Currency:         "eur",
		Refunds: []Refund{
			{ExternalID: "re_1", AmountCents: 1500, Currency: "eur", Status: "succeeded"},
		},
	}
	mustProcess(t, svc, refunded, OutcomeApplied)

	var rec models.RefundRecord
	if err := db.Where("external_refund_id = ?", "re_1").First(&rec).Error; err != nil {
		t.Fatalf("refund record missing: %v", err)
	}
	if rec.AmountCents != 1500 || rec.MembershipID != m.ID {
		t.Fatalf("unexpected refund record %+v", rec)
	}

	var entry models.RevenueEntry
	if err := db.Where("external_event_id = ?", "re_1").First(&entry).Error; err != nil {
		t.Fatalf("refund entry missing: %v", err)
	}
	if entry.EntryType != models.RevenueEntryTypeRefund || entry.AmountGrossCents != -1500 {
		t.Fatalf("unexpected refund entry %+v", entry)
	}

	if got := ledgerBalance(t, db, m.ID); got != 1000 {
		t.Fatalf("expected net balance 1000, got %d", got)
	}

	// A later event carries the cumulative refund list: the seen refund must
	// not double-book, the new one must.
	followUp := ChargeRefunded{
		eventHeader:      testHeader("evt_3", EventTypeChargeRefunded),
		ChargeRef:        "ch_1",
		PaymentIntentRef: "pi_1",
		Currency:         "eur",
		Refunds: []Refund{
			{ExternalID: "re_1", AmountCents: 1500, Currency: "eur", Status: "succeeded"},
			{ExternalID: "re_2", AmountCents: 500, Currency: "eur", Status: "succeeded"},
		},
	}
	mustProcess(t, svc, followUp, OutcomeApplied)

	if n := countRows(t, db, &models.RefundRecord{}); n != 2 {
		t.Fatalf("expected 2 refund records, got %d", n)
	}
	if got := ledgerBalance(t, db, m.ID); got != 500 {
		t.Fatalf("expected net balance 500, got %d", got)
	}
}

func TestRefundForUnknownChargeIsFlaggedSkip(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	refunded := ChargeRefunded{
		eventHeader:      testHeader("evt_1", EventTypeChargeRefunded),
		ChargeRef:        "ch_unknown",
		PaymentIntentRef: "pi_unknown",
		Currency:         "eur",
		Refunds:          []Refund{{ExternalID: "re_1", AmountCents: 100, Currency: "eur", Status: "succeeded"}},
	}
	mustProcess(t, svc, refunded, OutcomeSkipped)

	if n := countRows(t, db, &models.RefundRecord{}); n != 0 {
		t.Fatalf("expected no refund records, got %d", n)
	}
	if n := countRows(t, db, &models.RevenueEntry{}); n != 0 {
		t.Fatalf("expected no ledger entries, got %d", n)
	}
}

func TestDisputeLifecyclePostsOneChargeback(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeApplied)
	m := membershipByGroupUser(t, db, 7, 42)

	created := DisputeCreated{
		eventHeader:      testHeader("evt_2", EventTypeDisputeCreated),
		DisputeID:        "dp_1",
		ChargeRef:        "ch_1",
		PaymentIntentRef: "pi_1",
		AmountCents:      2500,
		Currency:         "eur",
		Reason:           "fraudulent",
		Status:           "needs_response",
	}
	mustProcess(t, svc, created, OutcomeApplied)

	// Funds have not moved yet.
	if n := countRows(t, db, &models.RevenueEntry{}); n != 1 {
		t.Fatalf("dispute creation must not ledger, got %d entries", n)
	}

	closed := DisputeClosed{
		eventHeader:      testHeader("evt_3", EventTypeDisputeClosed),
		DisputeID:        "dp_1",
		ChargeRef:        "ch_1",
		PaymentIntentRef: "pi_1",
		AmountCents:      2500,
		Currency:         "eur",
		Reason:           "fraudulent",
		Status:           DisputeStatusLost,
	}
	mustProcess(t, svc, closed, OutcomeApplied)
	mustProcess(t, svc, closed, OutcomeDuplicate)

	var rec models.DisputeRecord
	if err := db.Where("external_dispute_id = ?", "dp_1").First(&rec).Error; err != nil {
		t.Fatalf("dispute record missing: %v", err)
	}
	if rec.Status != DisputeStatusLost || rec.ClosedAt == nil {
		t.Fatalf("expected closed lost dispute, got %+v", rec)
	}
	if n := countRows(t, db, &models.DisputeRecord{}); n != 1 {
		t.Fatalf("expected 1 dispute record, got %d", n)
	}

	var entry models.RevenueEntry
	if err := db.Where("external_event_id = ?", "evt_3").First(&entry).Error; err != nil {
		t.Fatalf("chargeback entry missing: %v", err)
	}
	if entry.EntryType != models.RevenueEntryTypeChargeback || entry.AmountGrossCents != -2500 {
		t.Fatalf("unexpected chargeback entry %+v", entry)
	}
	if got := ledgerBalance(t, db, m.ID); got != 0 {
		t.Fatalf("expected balance 0 after chargeback, got %d", got)
	}
}

func TestDisputeWonPostsNoChargeback(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	mustProcess(t, svc, paidCheckout("evt_1"), OutcomeApplied)
	closed := DisputeClosed{
		eventHeader:      testHeader("evt_2", EventTypeDisputeClosed),
		DisputeID:        "dp_1",
		PaymentIntentRef: "pi_1",
		AmountCents:      2500,
		Currency:         "eur",
		Status:           "won",
	}
	mustProcess(t, svc, closed, OutcomeApplied)

	if n := countRows(t, db, &models.RevenueEntry{}); n != 1 {
		t.Fatalf("won dispute must not ledger, got %d entries", n)
	}
	// The closure arrived before the created event; the row exists anyway.
	var rec models.DisputeRecord
	if err := db.Where("external_dispute_id = ?", "dp_1").First(&rec).Error; err != nil {
		t.Fatalf("dispute record missing: %v", err)
	}
	if rec.ClosedAt == nil {
		t.Fatalf("expected closed_at on out-of-order closure")
	}

	// The late created event must not regress the final status.
	created := DisputeCreated{
		eventHeader:      testHeader("evt_3", EventTypeDisputeCreated),
		DisputeID:        "dp_1",
		PaymentIntentRef: "pi_1",
		AmountCents:      2500,
		Currency:         "eur",
		Status:           "needs_response",
	}
	mustProcess(t, svc, created, OutcomeApplied)
	if err := db.Where("external_dispute_id = ?", "dp_1").First(&rec).Error; err != nil {
		t.Fatalf("dispute record missing: %v", err)
	}
	if rec.Status != "won" {
		t.Fatalf("late created event regressed status to %q", rec.Status)
	}
}

func TestUncompletedCheckoutIsBenignSkip(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	checkout := paidCheckout("evt_1")
	checkout.Paid = false
	mustProcess(t, svc, checkout, OutcomeSkipped)

	if n := countRows(t, db, &models.Membership{}); n != 0 {
		t.Fatalf("unpaid checkout must not create a membership")
	}
}

func TestUnknownEventIsIgnoredWithoutPersistence(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	unknown := UnknownEvent{eventHeader: testHeader("evt_1", "customer.created")}
	mustProcess(t, svc, unknown, OutcomeIgnored)

	if n := countRows(t, db, &models.WebhookDelivery{}); n != 0 {
		t.Fatalf("ignored events must not be persisted, got %d rows", n)
	}
}

func TestMirrorNeverDivergesFromMembershipStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	checkout := paidCheckout("evt_1")
	checkout.Mode = CheckoutModeSubscription
	checkout.SubscriptionRef = "sub_1"
	events := []Event{
		checkout,
		InvoiceFailed{eventHeader: testHeader("evt_2", EventTypeInvoiceFailed), SubscriptionRef: "sub_1"},
		InvoicePaid{eventHeader: testHeader("evt_3", EventTypeInvoicePaid), SubscriptionRef: "sub_1", AmountPaidCents: 2500, Currency: "eur"},
		InvoiceFailed{eventHeader: testHeader("evt_4", EventTypeInvoiceFailed), SubscriptionRef: "sub_1"},
	}

	for _, ev := range events {
		mustProcess(t, svc, ev, OutcomeApplied)
		m := membershipByGroupUser(t, db, 7, 42)
		want := models.PaidStatusForMembership(m.Status)
		if got := mirrorStatus(t, db, 7, 42); got != want {
			t.Fatalf("after %s: mirror %q diverged from status %q (want %q)", ev.ExternalID(), got, m.Status, want)
		}
	}
}
