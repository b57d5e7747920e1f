package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const DefaultCurrency = "RUB"

// AcquirerType identifies an external payment acquirer.
type AcquirerType string

const (
	AcquirerTinkoff AcquirerType = "tinkoff"
)

// PaymentIntent is one attempt to collect money from a partner's customer.
type PaymentIntent struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	PartnerID         snowflake.ID    `json:"partner_id" gorm:"not null;index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency          string          `json:"currency" gorm:"type:text;not null"`
	Status            Status          `json:"status" gorm:"type:text;not null"`
	AcquirerType      AcquirerType    `json:"acquirer_type" gorm:"type:varchar(32);not null;index:ux_payment_intents_acquirer_reference,unique,priority:2"`
	AcquirerReference *string         `json:"acquirer_reference,omitempty" gorm:"type:varchar(191);index:ux_payment_intents_acquirer_reference,unique,priority:1"`
	Description       string          `json:"description" gorm:"type:text"`
	OrderID           string          `json:"order_id" gorm:"type:text"`
	Metadata          datatypes.JSON  `json:"metadata"`
	IdempotencyKey    string          `json:"idempotency_key" gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_intents_idempotency_key"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// Reference returns the acquirer reference or an empty string.
func (p *PaymentIntent) Reference() string {
	if p == nil || p.AcquirerReference == nil {
		return ""
	}
	return *p.AcquirerReference
}

// AcquirerCredential stores a partner's encrypted acquirer configuration.
type AcquirerCredential struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	PartnerID    snowflake.ID `json:"partner_id" gorm:"not null;index"`
	AcquirerType AcquirerType `json:"acquirer_type" gorm:"type:varchar(32);not null"`
	Config       string       `json:"-" gorm:"type:text;not null"`
	IsActive     bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (AcquirerCredential) TableName() string { return "acquirer_credentials" }

type Partner struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Partner) TableName() string { return "partners" }

// CreatePaymentRequest is the programmatic input of payment creation.
type CreatePaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	OrderID        string          `json:"order_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	SuccessURL     string          `json:"success_url,omitempty"`
	FailURL        string          `json:"fail_url,omitempty"`
	CustomerKey    string          `json:"customer_key,omitempty"`
	Recurrent      bool            `json:"recurrent,omitempty"`
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is the typed outcome of payment creation. Business failures are
// reported here instead of as Go errors.
type Result struct {
	Status       ResultStatus   `json:"status"`
	Intent       *PaymentIntent `json:"payment,omitempty"`
	RedirectURL  string         `json:"redirect_url,omitempty"`
	Requires3DS  bool           `json:"requires_3ds"`
	Replayed     bool           `json:"replayed"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Details      string         `json:"details,omitempty"`
}

func ErrorResult(message string) Result {
	return Result{Status: ResultError, ErrorMessage: message}
}
