package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v79"
)

// Gateway event types this core reacts to. Anything else is acknowledged and
// dropped by the dispatcher.
const (
	EventTypeCheckoutCompleted = "checkout.session.completed"
	EventTypeInvoicePaid       = "invoice.payment_succeeded"
	EventTypeInvoiceFailed     = "invoice.payment_failed"
	EventTypeChargeRefunded    = "charge.refunded"
	EventTypeDisputeCreated    = "charge.dispute.created"
	EventTypeDisputeClosed     = "charge.dispute.closed"
)

const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// DisputeStatusLost is the losing outcome that triggers a chargeback entry.
const DisputeStatusLost = "lost"

var validate = validator.New()

// Event is the closed set of decoded webhook events. The unexported marker
// keeps the set sealed so the dispatcher's type switch stays exhaustive.
type Event interface {
	// ExternalID returns the gateway event id used for idempotency.
	ExternalID() string
	// Type returns the gateway event type string.
	Type() string
	isWebhookEvent()
}

type eventHeader struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
}

func (h eventHeader) ExternalID() string { return h.EventID }
func (h eventHeader) Type() string       { return h.EventType }
func (eventHeader) isWebhookEvent()      {}

// CheckoutCompleted is a finished checkout session. GroupID/UserID come from
// checkout metadata and are zero when the metadata is missing, which the
// handler treats as unresolved linkage.
type CheckoutCompleted struct {
	eventHeader
	Mode             string
	Paid             bool
	AmountTotal      int64
	Currency         string
	CustomerRef      string
	SubscriptionRef  string
	PaymentIntentRef string
	GroupID          uint
	UserID           uint
	TierID           string
	CouponCode       string
	// PromoCodeSeen is scraped from the discount breakdown. Telemetry only;
	// CouponCode from metadata is the authoritative redemption key.
	PromoCodeSeen string
}

// InvoicePaid is a successful subscription invoice payment.
type InvoicePaid struct {
	eventHeader
	InvoiceRef       string
	SubscriptionRef  string
	CustomerRef      string
	PaymentIntentRef string
	AmountPaidCents  int64
	Currency         string
}

// InvoiceFailed is a failed subscription invoice payment.
type InvoiceFailed struct {
	eventHeader
	InvoiceRef      string
	SubscriptionRef string
	CustomerRef     string
}

// Refund is one refund inside a charge.refunded event. Amount is positive.
type Refund struct {
	ExternalID  string
	AmountCents int64
	Currency    string
	Status      string
	Reason      string
}

// ChargeRefunded carries the cumulative refund list of a charge. Deliveries
// for the same charge overlap, so each refund id is guarded individually.
type ChargeRefunded struct {
	eventHeader
	ChargeRef        string
	PaymentIntentRef string
	CustomerRef      string
	Currency         string
	Refunds          []Refund
}

// DisputeCreated opens a dispute. No funds move yet, so no ledger entry.
type DisputeCreated struct {
	eventHeader
	DisputeID        string
	ChargeRef        string
	PaymentIntentRef string
	AmountCents      int64
	Currency         string
	Reason           string
	Status           string
}

// DisputeClosed finishes a dispute. A "lost" status posts exactly one
// chargeback entry keyed by this event's own id.
type DisputeClosed struct {
	eventHeader
	DisputeID        string
	ChargeRef        string
	PaymentIntentRef string
	AmountCents      int64
	Currency         string
	Reason           string
	Status           string
}

// Lost reports whether the dispute closed with the losing outcome.
func (d DisputeClosed) Lost() bool { return d.Status == DisputeStatusLost }

// UnknownEvent is any gateway event type outside the handled set.
type UnknownEvent struct {
	eventHeader
}

// Raw payload shapes decoded from the event envelope. Status vocabularies are
// allow-list validated so unexpected gateway values fail loudly at decode
// time instead of landing in audit tables.

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode" validate:"omitempty,oneof=payment subscription setup"`
	PaymentStatus string            `json:"payment_status" validate:"omitempty,oneof=paid unpaid no_payment_required"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
	TotalDetails  *struct {
		Breakdown *struct {
			Discounts []struct {
				Amount   int64 `json:"amount"`
				Discount struct {
					PromotionCode string `json:"promotion_code"`
					Coupon        struct {
						ID string `json:"id"`
					} `json:"coupon"`
				} `json:"discount"`
			} `json:"discounts"`
		} `json:"breakdown"`
	} `json:"total_details"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	Customer      string `json:"customer"`
	PaymentIntent string `json:"payment_intent"`
	AmountPaid    int64  `json:"amount_paid"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

type refundPayload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status" validate:"omitempty,oneof=pending succeeded failed canceled requires_action"`
	Reason   string `json:"reason"`
}

type chargePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	PaymentIntent string `json:"payment_intent"`
	Currency      string `json:"currency"`
	Refunds       struct {
		Data []refundPayload `json:"data"`
	} `json:"refunds"`
}

type disputePayload struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	Status        string `json:"status" validate:"required,oneof=warning_needs_response warning_under_review warning_closed needs_response under_review won lost"`
}

// DecodeEvent turns a verified gateway event into one of the typed variants.
// Unknown event types decode to UnknownEvent and are never an error.
func DecodeEvent(evt *stripe.Event) (Event, error) {
	if evt == nil || strings.TrimSpace(evt.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}
	if evt.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrMalformedPayload, evt.ID)
	}

	header := eventHeader{
		EventID:    evt.ID,
		EventType:  string(evt.Type),
		OccurredAt: eventTime(evt.Created),
	}

	switch string(evt.Type) {
	case EventTypeCheckoutCompleted:
		var p checkoutSessionPayload
		if err := decodePayload(evt.Data.Raw, &p); err != nil {
			return nil, err
		}
		out := CheckoutCompleted{
			eventHeader:      header,
			Mode:             p.Mode,
			Paid:             p.PaymentStatus == "paid" || p.PaymentStatus == "no_payment_required",
			AmountTotal:      p.AmountTotal,
			Currency:         p.Currency,
			CustomerRef:      p.Customer,
			SubscriptionRef:  p.Subscription,
			PaymentIntentRef: p.PaymentIntent,
			GroupID:          metadataUint(p.Metadata, "group_id"),
			UserID:           metadataUint(p.Metadata, "user_id"),
			TierID:           strings.TrimSpace(p.Metadata["tier_id"]),
			CouponCode:       strings.TrimSpace(p.Metadata["coupon_code"]),
		}
		if p.TotalDetails != nil && p.TotalDetails.Breakdown != nil {
			for _, d := range p.TotalDetails.Breakdown.Discounts {
				if code := strings.TrimSpace(d.Discount.PromotionCode); code != "" {
					out.PromoCodeSeen = code
					break
				}
				if id := strings.TrimSpace(d.Discount.Coupon.ID); id != "" {
					out.PromoCodeSeen = id
					break
				}
			}
		}
		return out, nil

	case EventTypeInvoicePaid:
		var p invoicePayload
		if err := decodePayload(evt.Data.Raw, &p); err != nil {
			return nil, err
		}
		amount := p.AmountPaid
		if amount == 0 {
			amount = p.Total
		}
		return InvoicePaid{
			eventHeader:      header,
			InvoiceRef:       p.ID,
			SubscriptionRef:  p.Subscription,
			CustomerRef:      p.Customer,
			PaymentIntentRef: p.PaymentIntent,
			AmountPaidCents:  amount,
			Currency:         p.Currency,
		}, nil

	case EventTypeInvoiceFailed:
		var p invoicePayload
		if err := decodePayload(evt.Data.Raw, &p); err != nil {
			return nil, err
		}
		return InvoiceFailed{
			eventHeader:     header,
			InvoiceRef:      p.ID,
			SubscriptionRef: p.Subscription,
			CustomerRef:     p.Customer,
		}, nil

	case EventTypeChargeRefunded:
		var p chargePayload
		if err := decodePayload(evt.Data.Raw, &p); err != nil {
			return nil, err
		}
		out := ChargeRefunded{
			eventHeader:      header,
			ChargeRef:        p.ID,
			PaymentIntentRef: p.PaymentIntent,
			CustomerRef:      p.Customer,
			Currency:         p.Currency,
		}
		for _, r := range p.Refunds.Data {
			if err := validatePayload(r); err != nil {
				return nil, err
			}
			if strings.TrimSpace(r.ID) == "" || r.Amount <= 0 {
				continue
			}
			currency := r.Currency
			if currency == "" {
				currency = p.Currency
			}
			out.Refunds = append(out.Refunds, Refund{
				ExternalID:  r.ID,
				AmountCents: r.Amount,
				Currency:    currency,
				Status:      r.Status,
				Reason:      r.Reason,
			})
		}
		return out, nil

	case EventTypeDisputeCreated:
		p, err := decodeDispute(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		return DisputeCreated{
			eventHeader:      header,
			DisputeID:        p.ID,
			ChargeRef:        p.Charge,
			PaymentIntentRef: p.PaymentIntent,
			AmountCents:      p.Amount,
			Currency:         p.Currency,
			Reason:           p.Reason,
			Status:           p.Status,
		}, nil

	case EventTypeDisputeClosed:
		p, err := decodeDispute(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		return DisputeClosed{
			eventHeader:      header,
			DisputeID:        p.ID,
			ChargeRef:        p.Charge,
			PaymentIntentRef: p.PaymentIntent,
			AmountCents:      p.Amount,
			Currency:         p.Currency,
			Reason:           p.Reason,
			Status:           p.Status,
		}, nil

	default:
		return UnknownEvent{eventHeader: header}, nil
	}
}

func decodeDispute(raw json.RawMessage) (*disputePayload, error) {
	var p disputePayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: dispute payload missing id", ErrMalformedPayload)
	}
	return &p, nil
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return validatePayload(out)
}

func validatePayload(p interface{}) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func metadataUint(meta map[string]string, key string) uint {
	v, err := strconv.ParseUint(strings.TrimSpace(meta[key]), 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}

func eventTime(created int64) time.Time {
	if created <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
