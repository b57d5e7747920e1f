package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Credentials is the decrypted, validated access configuration of one
// partner for one acquirer.
type Credentials struct {
	TerminalKey string
	Password    string
	// Extra carries acquirer-specific optional settings that passed validation.
	Extra map[string]string
}

// InitiateRequest is what a gateway needs to start a payment.
type InitiateRequest struct {
	PaymentID   string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	SuccessURL  string
	FailURL     string
	CustomerKey string
	Recurrent   bool
	// Extra must be empty unless the gateway explicitly supports a key.
	Extra map[string]string
}

type InitiateResult struct {
	Status       ResultStatus
	Reference    string
	RedirectURL  string
	Requires3DS  bool
	ACSURL       string
	MD           string
	PaReq        string
	ErrorMessage string
	ErrorCode    string
	Details      string
}

// WebhookIdentity is the minimal triple needed to deduplicate a callback.
type WebhookIdentity struct {
	Reference      string
	ReportedStatus string
	OrderID        string
}

// WebhookUpdate is a verified status change reported by an acquirer.
type WebhookUpdate struct {
	Reference      string
	ReportedStatus string
	Status         Status
	Metadata       map[string]any
}

// Gateway speaks one acquirer's wire protocol.
type Gateway interface {
	Type() AcquirerType
	ParseCredentials(raw map[string]any) (Credentials, error)
	InitiatePayment(ctx context.Context, req InitiateRequest, creds Credentials) (InitiateResult, error)
	// Refund returns false on a well-formed provider rejection. amount nil
	// means a full refund.
	Refund(ctx context.Context, intent *PaymentIntent, amount *decimal.Decimal, creds Credentials) (bool, error)
	GetStatus(ctx context.Context, reference string, creds Credentials) (Status, error)
	Identify(payload map[string]any) (WebhookIdentity, error)
	// HandleWebhook verifies payload authenticity and maps it to an update.
	// It returns ErrInvalidSignature or ErrMalformedPayload before anything
	// is mutated.
	HandleWebhook(ctx context.Context, payload map[string]any, creds Credentials) (*WebhookUpdate, error)
}

type GatewayFactory interface {
	Type() AcquirerType
	NewGateway() (Gateway, error)
}
