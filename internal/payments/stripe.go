package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeGateway configures the Stripe client and returns a gateway.
func NewStripeGateway(apiKey, webhookSecret string, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	stripe.Key = apiKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// CreateIntent creates a Stripe PaymentIntent, as a destination charge when
// a connected account is present.
func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	if p.DestinationAccount != "" {
		params.ApplicationFeeAmount = stripe.Int64(p.ApplicationFeeCents)
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.DestinationAccount),
		}
		g.logger.Info("using destination charge",
			zap.String("destination_account", p.DestinationAccount),
			zap.Int64("application_fee_cents", p.ApplicationFeeCents),
		)
	} else {
		g.logger.Warn("no connected account, full amount settles to platform")
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %v", ErrGateway, err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// VerifyWebhook checks the Stripe signature and maps the provider event onto
// the closed event set. Unrecognized event types come back as EventIgnored.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		intentID, err := intentIDFromEvent(event)
		if err != nil {
			return Event{}, err
		}
		return Event{Type: EventPaymentSucceeded, IntentID: intentID, ProviderType: string(event.Type)}, nil

	case "payment_intent.payment_failed":
		intentID, err := intentIDFromEvent(event)
		if err != nil {
			return Event{}, err
		}
		return Event{Type: EventPaymentFailed, IntentID: intentID, ProviderType: string(event.Type)}, nil

	default:
		return Event{Type: EventIgnored, ProviderType: string(event.Type)}, nil
	}
}

func intentIDFromEvent(event stripe.Event) (string, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("deserialize payment intent: %w", err)
	}
	return pi.ID, nil
}
