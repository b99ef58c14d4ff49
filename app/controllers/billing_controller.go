package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/grouphive/grouphive/app/repository"
	"github.com/grouphive/grouphive/internal/pkg/billing"
	"github.com/grouphive/grouphive/internal/pkg/metrics/counter"
)

// BillingController handles payment-gateway webhooks and internal ledger
// reads. The gateway capability is injected so tests can substitute a fake
// and the webhook secret lifecycle stays explicit.
type BillingController struct {
	gateway billing.Gateway
	service *billing.Service
	ledger  repository.LedgerRepository
}

func NewBillingController(gateway billing.Gateway, service *billing.Service, ledger repository.LedgerRepository) *BillingController {
	return &BillingController{
		gateway: gateway,
		service: service,
		ledger:  ledger,
	}
}

// HandlePaymentWebhook ingests one gateway delivery. The sender retries on
// non-2xx, so only signature/payload problems return 4xx, missing
// configuration returns 503, and a rolled-back persistence failure returns
// 500. Everything that must not be retried is acknowledged with 200.
func (bc *BillingController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	evt, err := bc.gateway.VerifyEvent(rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrGatewayUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "gateway_unavailable"})
		}
		bc.countOutcome("rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	decoded, err := billing.DecodeEvent(evt)
	if err != nil {
		bc.countOutcome("rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := bc.service.Process(ctx, rawBody, decoded)
	if err != nil {
		log.Printf("billing: processing event %s failed, rolled back: %v", decoded.ExternalID(), err)
		bc.countOutcome("failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_persist_failed"})
	}

	// Counters run strictly after commit and never fail the request.
	bc.countOutcome(string(result.Outcome))

	switch result.Outcome {
	case billing.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.OutcomeSkipped:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "skipped": true})
	case billing.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

// HandleGroupLedgerSummary serves the aggregated revenue ledger of one group
// for internal consumers (organizer dashboard, finance exports).
func (bc *BillingController) HandleGroupLedgerSummary(c *fiber.Ctx) error {
	groupID, err := c.ParamsInt("id")
	if err != nil || groupID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_group_id"})
	}

	summary, err := bc.ledger.GroupSummary(uint(groupID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ledger_query_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

// HandleWebhookCounters exposes the per-outcome processing counters.
func (bc *BillingController) HandleWebhookCounters(c *fiber.Ctx) error {
	totals, err := counter.WebhookOutcomeTotals()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counter_query_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(totals)
}

func (bc *BillingController) countOutcome(outcome string) {
	if err := counter.AddWebhookOutcome(outcome); err != nil {
		log.Printf("billing: outcome counter update failed: %v", err)
	}
}
