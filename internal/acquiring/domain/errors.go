package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAcquirer        = errors.New("unknown_acquirer")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidPartner         = errors.New("invalid_partner")
	ErrPaymentNotFound        = errors.New("payment_not_found")
	ErrCredentialNotFound     = errors.New("credential_not_found")
	ErrMissingCredentialField = errors.New("missing_credential_field")
	ErrMissingReference       = errors.New("missing_acquirer_reference")
	ErrUnsupportedField       = errors.New("unsupported_field")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMalformedPayload = errors.New("malformed_payload")
)

// MissingCredentialField reports the first required field absent from a
// decrypted credential map.
func MissingCredentialField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingCredentialField, field)
}

// TransportError wraps a failure to reach the acquirer or a non-2xx answer.
type TransportError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: acquirer responded with http %d", e.Operation, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return e.Operation + ": transport error"
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err was raised by signature or payload
// validation, i.e. the event was inspected and rejected.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingCredentialField)
}
