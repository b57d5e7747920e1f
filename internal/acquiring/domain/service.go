package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PaymentService is the trust boundary for synchronous payment operations.
// Gateway and vault failures are converted into results, never returned raw.
type PaymentService interface {
	CreatePayment(ctx context.Context, partnerID snowflake.ID, req CreatePaymentRequest, acquirer AcquirerType) Result
	RefundPayment(ctx context.Context, intent *PaymentIntent, amount *decimal.Decimal) bool
	GetExternalStatus(ctx context.Context, intent *PaymentIntent) *Status
	GetPayment(ctx context.Context, id snowflake.ID) (*PaymentIntent, error)
	ListPayments(ctx context.Context, partnerID snowflake.ID, limit int) ([]PaymentIntent, error)
}

type OutcomeResult string

const (
	OutcomeProcessed OutcomeResult = "processed"
	OutcomeDuplicate OutcomeResult = "duplicate"
	OutcomeError     OutcomeResult = "error"
)

// Outcome is the three-way result of reconciling one webhook delivery.
type Outcome struct {
	Result    OutcomeResult `json:"result"`
	Message   string        `json:"message,omitempty"`
	PaymentID string        `json:"payment_id,omitempty"`
	Reference string        `json:"acquirer_reference,omitempty"`
}

type WebhookService interface {
	Reconcile(ctx context.Context, provider string, payload map[string]any) Outcome
}
