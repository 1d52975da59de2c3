// Package payments wraps the Stripe payment provider behind a small gateway
// interface: intent creation and signed-webhook verification.
package payments

import (
	"context"
	"errors"
)

// Errors
var (
	// ErrSignatureInvalid means the webhook payload did not verify against
	// the endpoint secret. Never retried.
	ErrSignatureInvalid = errors.New("payments: invalid webhook signature")
	// ErrGateway wraps provider-side failures; callers may retry.
	ErrGateway = errors.New("payments: gateway error")
)

// EventType enumerates the webhook events this system consumes.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	// EventIgnored covers every provider event we receive but do not act on.
	EventIgnored EventType = "ignored"
)

// Event is a verified webhook notification.
type Event struct {
	Type     EventType
	IntentID string
	// ProviderType is the raw provider event name, kept for logging.
	ProviderType string
}

// IntentParams describes a charge to be authorized.
type IntentParams struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
	// DestinationAccount, when set, routes ApplicationFeeCents to the
	// platform and the remainder to the connected account (destination
	// charge). When empty the whole amount settles to the platform.
	DestinationAccount  string
	ApplicationFeeCents int64
}

// Intent is the provider's handle for an authorized-but-unpaid charge.
type Intent struct {
	ID           string
	ClientSecret string
}

// Gateway is the payment provider surface the settlement core depends on.
type Gateway interface {
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)
	VerifyWebhook(payload []byte, signatureHeader string) (Event, error)
}
