package port

import "context"

// PaymentEventKind is the processor-neutral meaning of a webhook event
type PaymentEventKind string

const (
	PaymentSessionCompleted      PaymentEventKind = "session_completed"
	PaymentSessionAsyncSucceeded PaymentEventKind = "session_async_succeeded"
	PaymentSessionExpired        PaymentEventKind = "session_expired"
	PaymentSessionAsyncFailed    PaymentEventKind = "session_async_failed"
	PaymentEventIgnored          PaymentEventKind = "ignored"
)

// SessionRequest asks the processor for a hosted payment session
type SessionRequest struct {
	CorrelationToken string
	AmountCents      int64
	Currency         string
	Description      string
}

// PaymentSession is the processor's answer to a SessionRequest
type PaymentSession struct {
	ID           string
	ClientSecret string
}

// PaymentEvent is a verified webhook event
type PaymentEvent struct {
	ID               string
	Type             string
	Kind             PaymentEventKind
	SessionID        string
	Paid             bool
	CorrelationToken string
	CustomerEmail    string
	CustomerName     string
	AmountTotal      int64
}

// PaymentProcessor is the third-party payment collaborator
type PaymentProcessor interface {
	CreateSession(ctx context.Context, req SessionRequest) (*PaymentSession, error)
	// ParseEvent verifies the signature over the raw payload and decodes it.
	ParseEvent(payload []byte, signatureHeader string) (*PaymentEvent, error)
	CustomerEmail(ctx context.Context, sessionID string) (string, error)
	PublicKey() string
}
