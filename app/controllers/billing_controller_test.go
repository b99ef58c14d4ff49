package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/grouphive/grouphive/app/models"
	"github.com/grouphive/grouphive/app/repository"
	"github.com/grouphive/grouphive/internal/pkg/billing"
	"github.com/grouphive/grouphive/internal/pkg/constants"
)

// fakeGateway substitutes signature verification so handler tests can feed
// pre-built events.
type fakeGateway struct {
	evt *stripe.Event
	err error
}

func (f *fakeGateway) VerifyEvent(payload []byte, signatureHeader string) (*stripe.Event, error) {
	return f.evt, f.err
}

func newControllerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.Membership{},
		&models.GroupMember{},
		&models.RevenueEntry{},
		&models.Coupon{},
		&models.RefundRecord{},
		&models.DisputeRecord{},
		&models.WebhookDelivery{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newWebhookApp(gateway billing.Gateway, db *gorm.DB) *fiber.App {
	app := fiber.New()
	bc := NewBillingController(gateway, billing.NewService(db), repository.NewLedgerRepository(db))
	app.Post(constants.PaymentWebhookRoute, bc.HandlePaymentWebhook)
	app.Get("/groups/:id/ledger", bc.HandleGroupLedgerSummary)
	return app
}

func checkoutStripeEvent(id string) *stripe.Event {
	raw := json.RawMessage(`{
		"id": "cs_test_1",
		"mode": "payment",
		"payment_status": "paid",
		"amount_total": 2500,
		"currency": "eur",
		"customer": "cus_1",
		"payment_intent": "pi_1",
		"metadata": {"group_id": "7", "user_id": "42", "tier_id": "tier_gold"}
	}`)
	return &stripe.Event{
		ID:      id,
		Type:    stripe.EventType("checkout.session.completed"),
		Created: 1700000000,
		Data:    &stripe.EventData{Raw: raw},
	}
}

func postWebhook(t *testing.T, app *fiber.App) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", constants.PaymentWebhookRoute, bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", "t=1700000000,v1=deadbeef")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	_ = json.Unmarshal(body, &decoded)
	return resp.StatusCode, decoded
}

func TestHandlePaymentWebhookApplied(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{evt: checkoutStripeEvent("evt_1")}, db)

	status, body := postWebhook(t, app)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	var n int64
	db.Model(&models.Membership{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestHandlePaymentWebhookDuplicate(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{evt: checkoutStripeEvent("evt_1")}, db)

	status, _ := postWebhook(t, app)
	assert.Equal(t, fiber.StatusOK, status)

	status, body := postWebhook(t, app)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	var n int64
	db.Model(&models.RevenueEntry{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestHandlePaymentWebhookInvalidSignature(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{err: billing.ErrSignatureInvalid}, db)

	status, body := postWebhook(t, app)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])
}

func TestHandlePaymentWebhookGatewayUnavailable(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{err: billing.ErrGatewayUnavailable}, db)

	status, body := postWebhook(t, app)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "gateway_unavailable", body["error"])
}

func TestHandlePaymentWebhookUnknownEventAcknowledged(t *testing.T) {
	db := newControllerTestDB(t)
	evt := &stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType("customer.created"),
		Created: 1700000000,
		Data:    &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	app := newWebhookApp(&fakeGateway{evt: evt}, db)

	status, body := postWebhook(t, app)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ignored"])
}

func TestHandleGroupLedgerSummary(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{evt: checkoutStripeEvent("evt_1")}, db)

	status, _ := postWebhook(t, app)
	assert.Equal(t, fiber.StatusOK, status)

	req := httptest.NewRequest("GET", "/groups/7/ledger", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var summary repository.LedgerSummary
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(2500), summary.ChargeCents)
	assert.Equal(t, int64(2500), summary.BalanceCents)
}

func TestHandleGroupLedgerSummaryRejectsBadID(t *testing.T) {
	db := newControllerTestDB(t)
	app := newWebhookApp(&fakeGateway{}, db)

	req := httptest.NewRequest("GET", "/groups/abc/ledger", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
