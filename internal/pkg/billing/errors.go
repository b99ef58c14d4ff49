package billing

import "errors"

// Error taxonomy for webhook processing. Controllers map these onto HTTP
// status codes; everything not in this list is a persistence failure that
// rolls back and returns 500.
var (
	// ErrGatewayUnavailable means the gateway capability is not configured
	// (missing webhook secret). Maps to 503 so the sender retries later.
	ErrGatewayUnavailable = errors.New("payment gateway is not configured")

	// ErrSignatureInvalid means the payload failed signature verification.
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrMalformedPayload means the payload decoded to something outside the
	// gateway's documented shape or vocabulary.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
