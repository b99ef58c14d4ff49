package constants

// Static route constants
const (
	PaymentWebhookRoute = "/webhooks/payment"
	HealthRoute         = "/health"
	InternalAPIPrefix   = "/api/internal"
)
