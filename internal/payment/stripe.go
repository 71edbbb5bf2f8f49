// Package payment adapts Stripe Checkout to the payment processor port.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/port"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// MetadataPendingOrderID is the session metadata key carrying the correlation token
const MetadataPendingOrderID = "pending_order_id"

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	ReturnURL      string
	Timeout        time.Duration
}

// StripeProcessor creates embedded Checkout Sessions and verifies webhooks
type StripeProcessor struct {
	api            *client.API
	publishableKey string
	webhookSecret  string
	returnURL      string
}

// NewStripeProcessor creates a processor whose HTTP calls are bounded by cfg.Timeout
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackends(httpClient))

	return &StripeProcessor{
		api:            api,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
		returnURL:      cfg.ReturnURL,
	}
}

// PublicKey returns the publishable key handed to the browser
func (p *StripeProcessor) PublicKey() string {
	return p.publishableKey
}

// CreateSession creates an embedded Checkout Session for the whole amount.
// The Stripe idempotency key is derived from the correlation token so a
// retried call cannot open a second session for the same pending order.
func (p *StripeProcessor) CreateSession(ctx context.Context, req port.SessionRequest) (*port.PaymentSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		UIMode:            stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		ReturnURL:         stripe.String(p.returnURL),
		ClientReferenceID: stripe.String(req.CorrelationToken),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataPendingOrderID, req.CorrelationToken)
	params.SetIdempotencyKey("checkout-session-" + req.CorrelationToken)

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &port.PaymentSession{ID: session.ID, ClientSecret: session.ClientSecret}, nil
}

// CustomerEmail re-reads a session to find the buyer's email
func (p *StripeProcessor) CustomerEmail(ctx context.Context, sessionID string) (string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if session.CustomerDetails == nil {
		return "", nil
	}
	return session.CustomerDetails.Email, nil
}

// ParseEvent verifies the Stripe-Signature header against the exact raw
// payload and decodes checkout session events
func (p *StripeProcessor) ParseEvent(payload []byte, signatureHeader string) (*port.PaymentEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, apperr.Authenticity("missing signature header", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperr.Authenticity("invalid webhook signature", err)
	}

	out := &port.PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: kindOf(event.Type),
	}
	if out.Kind == port.PaymentEventIgnored {
		return out, nil
	}

	var session stripe.CheckoutSession
	if event.Data == nil {
		return nil, apperr.Validation("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, apperr.Validation("event %s has an undecodable session: %v", event.ID, err)
	}

	out.SessionID = session.ID
	out.Paid = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	out.AmountTotal = session.AmountTotal
	out.CorrelationToken = session.Metadata[MetadataPendingOrderID]
	if out.CorrelationToken == "" {
		out.CorrelationToken = session.ClientReferenceID
	}
	if session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
		out.CustomerName = session.CustomerDetails.Name
	}
	return out, nil
}

func kindOf(t stripe.EventType) port.PaymentEventKind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return port.PaymentSessionCompleted
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return port.PaymentSessionAsyncSucceeded
	case stripe.EventTypeCheckoutSessionExpired:
		return port.PaymentSessionExpired
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return port.PaymentSessionAsyncFailed
	default:
		return port.PaymentEventIgnored
	}
}
