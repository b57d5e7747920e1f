package tinkoff

import (
	"bytes"
	"encoding/json"
)

// initRequest is the body of POST Init.
type initRequest struct {
	TerminalKey     string            `json:"TerminalKey"`
	Amount          int64             `json:"Amount"`
	OrderID         string            `json:"OrderId"`
	Description     string            `json:"Description,omitempty"`
	Language        string            `json:"Language,omitempty"`
	NotificationURL string            `json:"NotificationURL,omitempty"`
	SuccessURL      string            `json:"SuccessURL,omitempty"`
	FailURL         string            `json:"FailURL,omitempty"`
	CustomerKey     string            `json:"CustomerKey,omitempty"`
	Recurrent       string            `json:"Recurrent,omitempty"`
	PayType         string            `json:"PayType,omitempty"`
	RedirectDueDate string            `json:"RedirectDueDate,omitempty"`
	Data            map[string]string `json:"DATA,omitempty"`
	Token           string            `json:"Token"`
}

func (r initRequest) tokenFields() map[string]any {
	fields := map[string]any{
		"TerminalKey": r.TerminalKey,
		"Amount":      r.Amount,
		"OrderId":     r.OrderID,
	}
	putNonEmpty(fields, "Description", r.Description)
	putNonEmpty(fields, "Language", r.Language)
	putNonEmpty(fields, "NotificationURL", r.NotificationURL)
	putNonEmpty(fields, "SuccessURL", r.SuccessURL)
	putNonEmpty(fields, "FailURL", r.FailURL)
	putNonEmpty(fields, "CustomerKey", r.CustomerKey)
	putNonEmpty(fields, "Recurrent", r.Recurrent)
	putNonEmpty(fields, "PayType", r.PayType)
	putNonEmpty(fields, "RedirectDueDate", r.RedirectDueDate)
	return fields
}

// cancelRequest is the body of POST Cancel. Amount zero means the full amount.
type cancelRequest struct {
	TerminalKey string `json:"TerminalKey"`
	PaymentID   string `json:"PaymentId"`
	Amount      int64  `json:"Amount,omitempty"`
	Token       string `json:"Token"`
}

func (r cancelRequest) tokenFields() map[string]any {
	fields := map[string]any{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
	if r.Amount > 0 {
		fields["Amount"] = r.Amount
	}
	return fields
}

// getStateRequest is the body of POST GetState.
type getStateRequest struct {
	TerminalKey string `json:"TerminalKey"`
	PaymentID   string `json:"PaymentId"`
	Token       string `json:"Token"`
}

func (r getStateRequest) tokenFields() map[string]any {
	return map[string]any{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
}

// response carries the fields shared by every method's answer.
type response struct {
	Success   bool       `json:"Success"`
	ErrorCode string     `json:"ErrorCode"`
	Message   string     `json:"Message"`
	Details   string     `json:"Details"`
	Status    string     `json:"Status"`
	PaymentID flexString `json:"PaymentId"`
}

type initResponse struct {
	response
	PaymentURL string `json:"PaymentURL"`
	ACSURL     string `json:"ACSUrl"`
	MD         string `json:"MD"`
	PaReq      string `json:"PaReq"`
}

type cancelResponse struct {
	response
	OriginalAmount int64 `json:"OriginalAmount"`
	NewAmount      int64 `json:"NewAmount"`
}

type getStateResponse struct {
	response
	Amount int64 `json:"Amount"`
}

// flexString accepts both JSON strings and numbers. PaymentId arrives in
// either form depending on the method.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) String() string { return string(s) }

func putNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
