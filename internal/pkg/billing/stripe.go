package billing

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/grouphive/grouphive/internal/pkg/env"
)

// Gateway is the injected payment-gateway capability. The webhook controller
// only ever needs signature verification, so that is the whole surface; tests
// substitute a fake and the Stripe client stays out of the transaction path.
type Gateway interface {
	// VerifyEvent checks the signature header against the raw body and
	// returns the decoded event envelope. Returns ErrGatewayUnavailable when
	// the gateway is unconfigured and ErrSignatureInvalid on a bad signature.
	VerifyEvent(payload []byte, signatureHeader string) (*stripe.Event, error)
}

type stripeGateway struct {
	webhookSecret string
}

// NewStripeGateway builds a Gateway around a webhook signing secret. An empty
// secret yields a gateway that reports ErrGatewayUnavailable, which the HTTP
// layer maps to 503 so the sender retries once configuration is fixed.
func NewStripeGateway(webhookSecret string) Gateway {
	return &stripeGateway{webhookSecret: strings.TrimSpace(webhookSecret)}
}

// NewStripeGatewayFromEnv reads STRIPE_WEBHOOK_SECRET.
func NewStripeGatewayFromEnv() Gateway {
	return NewStripeGateway(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

func (g *stripeGateway) VerifyEvent(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrGatewayUnavailable
	}
	// The webhook API version is pinned per gateway account and routinely
	// trails the SDK's, so a mismatch must not reject the delivery.
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return &evt, nil
}
