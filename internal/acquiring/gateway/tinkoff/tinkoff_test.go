package tinkoff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = domain.Credentials{TerminalKey: "TinkoffBankTest", Password: "secret"}

type fakeAPI struct {
	t       *testing.T
	calls   int32
	mu      sync.Mutex
	lastReq map[string]any
	handler func(method string, body map[string]any) (int, any)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.calls, 1)
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	assert.NoError(f.t, dec.Decode(&body))
	f.mu.Lock()
	f.lastReq = body
	f.mu.Unlock()

	method := r.URL.Path[len("/v2/"):]
	status, resp := f.handler(method, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeAPI) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newTestGateway(t *testing.T, handler func(string, map[string]any) (int, any)) (*Gateway, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t, handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	gw, err := New(Options{BaseURL: srv.URL + "/v2", Timeout: 2 * time.Second, NotificationURL: "https://example.test/webhooks/tinkoff"})
	require.NoError(t, err)
	return gw, api
}

func TestInitiatePaymentSuccess(t *testing.T) {
	gw, api := newTestGateway(t, func(method string, body map[string]any) (int, any) {
		assert.Equal(t, methodInit, method)
		return http.StatusOK, map[string]any{
			"Success":    true,
			"ErrorCode":  "0",
			"Status":     "NEW",
			"PaymentId":  234567890123,
			"PaymentURL": "https://securepay.tinkoff.ru/new/abc",
		}
	})

	res, err := gw.InitiatePayment(context.Background(), domain.InitiateRequest{
		PaymentID:   "1001",
		Amount:      decimal.RequireFromString("100.50"),
		Description: "order",
	}, testCreds)
	require.NoError(t, err)

	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, "234567890123", res.Reference)
	assert.Equal(t, "https://securepay.tinkoff.ru/new/abc", res.RedirectURL)
	assert.False(t, res.Requires3DS)

	req := api.last()
	assert.Equal(t, json.Number("10050"), req["Amount"])
	assert.Equal(t, "1001", req["OrderId"])
	assert.Equal(t, "https://example.test/webhooks/tinkoff", req["NotificationURL"])
	assert.Equal(t, map[string]any{"payment_id": "1001"}, req["DATA"])
	assert.Equal(t, GenerateToken(req, "secret"), req["Token"])
}

func TestInitiatePayment3DS(t *testing.T) {
	gw, _ := newTestGateway(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"Success":   true,
			"PaymentId": "42",
			"ACSUrl":    "https://acs.example/3ds",
			"MD":        "md-value",
			"PaReq":     "pareq-value",
		}
	})

	res, err := gw.InitiatePayment(context.Background(), domain.InitiateRequest{OrderID: "o-1", Amount: decimal.NewFromInt(10)}, testCreds)
	require.NoError(t, err)
	assert.True(t, res.Requires3DS)
	assert.Equal(t, "https://acs.example/3ds", res.ACSURL)
	assert.Equal(t, "md-value", res.MD)
	assert.Equal(t, "pareq-value", res.PaReq)
}

func TestInitiatePaymentProviderRejection(t *testing.T) {
	gw, _ := newTestGateway(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"Success":   false,
			"ErrorCode": "204",
			"Message":   "Неверный токен",
			"Details":   "token mismatch",
		}
	})

	res, err := gw.InitiatePayment(context.Background(), domain.InitiateRequest{OrderID: "o-1", Amount: decimal.NewFromInt(10)}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "204", res.ErrorCode)
	assert.Equal(t, "Неверный токен", res.ErrorMessage)
	assert.Equal(t, "token mismatch", res.Details)
}

func TestInitiatePaymentNon2xxIsErrorResult(t *testing.T) {
	gw, _ := newTestGateway(t, func(string, map[string]any) (int, any) {
		return http.StatusBadGateway, map[string]any{"error": "upstream"}
	})

	res, err := gw.InitiatePayment(context.Background(), domain.InitiateRequest{OrderID: "o-1", Amount: decimal.NewFromInt(10)}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "HTTP_502", res.ErrorCode)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestInitiatePaymentHonorsContext(t *testing.T) {
	gw, _ := newTestGateway(t, func(string, map[string]any) (int, any) {
		time.Sleep(200 * time.Millisecond)
		return http.StatusOK, map[string]any{"Success": true, "PaymentId": "1"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := gw.InitiatePayment(ctx, domain.InitiateRequest{OrderID: "o-1", Amount: decimal.NewFromInt(10)}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
}

func TestInitiatePaymentRejectsBadInput(t *testing.T) {
	gw, api := newTestGateway(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"Success": true, "PaymentId": "1"}
	})
	ctx := context.Background()

	_, err := gw.InitiatePayment(ctx, domain.InitiateRequest{OrderID: "o", Amount: decimal.RequireFromString("10.005")}, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = gw.InitiatePayment(ctx, domain.InitiateRequest{OrderID: "o", Amount: decimal.Zero}, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = gw.InitiatePayment(ctx, domain.InitiateRequest{
		OrderID: "o",
		Amount:  decimal.NewFromInt(1),
		Extra:   map[string]string{"shop_code": "x"},
	}, testCreds)
	assert.ErrorIs(t, err, domain.ErrUnsupportedField)

	_, err = gw.InitiatePayment(ctx, domain.InitiateRequest{OrderID: "o", Amount: decimal.NewFromInt(1), Currency: "USD"}, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = gw.InitiatePayment(ctx, domain.InitiateRequest{OrderID: "o", Amount: decimal.NewFromInt(1)}, domain.Credentials{TerminalKey: "T"})
	assert.ErrorIs(t, err, domain.ErrMissingCredentialField)

	assert.Zero(t, atomic.LoadInt32(&api.calls))
}

func TestRefund(t *testing.T) {
	var accepted atomic.Bool
	accepted.Store(true)
	gw, api := newTestGateway(t, func(method string, body map[string]any) (int, any) {
		assert.Equal(t, methodCancel, method)
		return http.StatusOK, map[string]any{"Success": accepted.Load(), "ErrorCode": "0", "Status": "REFUNDED", "PaymentId": "234567890123"}
	})
	ref := "234567890123"
	intent := &domain.PaymentIntent{AcquirerReference: &ref, Amount: decimal.RequireFromString("100.50")}

	ok, err := gw.Refund(context.Background(), intent, nil, testCreds)
	require.NoError(t, err)
	assert.True(t, ok)
	_, hasAmount := api.last()["Amount"]
	assert.False(t, hasAmount)

	partial := decimal.RequireFromString("20.25")
	ok, err = gw.Refund(context.Background(), intent, &partial, testCreds)
	require.NoError(t, err)
	assert.True(t, ok)
	req := api.last()
	assert.Equal(t, json.Number("2025"), req["Amount"])
	assert.Equal(t, GenerateToken(req, "secret"), req["Token"])

	accepted.Store(false)
	ok, err = gw.Refund(context.Background(), intent, nil, testCreds)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefundProgrammerErrors(t *testing.T) {
	gw, api := newTestGateway(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"Success": true}
	})

	_, err := gw.Refund(context.Background(), &domain.PaymentIntent{}, nil, testCreds)
	assert.ErrorIs(t, err, domain.ErrMissingReference)

	ref := "1"
	_, err = gw.Refund(context.Background(), &domain.PaymentIntent{AcquirerReference: &ref}, nil, domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrMissingCredentialField)

	assert.Zero(t, atomic.LoadInt32(&api.calls))
}

func TestGetStatus(t *testing.T) {
	var status atomic.Value
	status.Store("CONFIRMED")
	gw, _ := newTestGateway(t, func(method string, body map[string]any) (int, any) {
		assert.Equal(t, methodGetState, method)
		assert.Equal(t, "234567890123", body["PaymentId"])
		return http.StatusOK, map[string]any{"Success": true, "Status": status.Load(), "PaymentId": "234567890123"}
	})

	got, err := gw.GetStatus(context.Background(), "234567890123", testCreds)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got)

	status.Store("BRAND_NEW_STATUS")
	got, err = gw.GetStatus(context.Background(), "234567890123", testCreds)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got)

	_, err = gw.GetStatus(context.Background(), "", testCreds)
	assert.ErrorIs(t, err, domain.ErrMissingReference)
}

func TestParseCredentials(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)

	creds, err := gw.ParseCredentials(map[string]any{
		"terminal_key":     "T",
		"secret_key":       "S",
		"notification_url": "https://n.example",
		"unrelated":        "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "T", creds.TerminalKey)
	assert.Equal(t, "S", creds.Password)
	assert.Equal(t, map[string]string{"notification_url": "https://n.example"}, creds.Extra)

	_, err = gw.ParseCredentials(map[string]any{"password": "S"})
	assert.ErrorIs(t, err, domain.ErrMissingCredentialField)
	assert.Contains(t, err.Error(), "terminal_key")

	_, err = gw.ParseCredentials(map[string]any{"terminal_key": "T"})
	assert.ErrorIs(t, err, domain.ErrMissingCredentialField)
	assert.Contains(t, err.Error(), "password")
}

func signedPayload(fields map[string]any, password string) map[string]any {
	out := map[string]any{}
	for k, v := range fields {
		out[k] = v
	}
	out["Token"] = GenerateToken(out, password)
	return out
}

func TestHandleWebhook(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)

	payload := signedPayload(map[string]any{
		"TerminalKey": "TinkoffBankTest",
		"PaymentId":   json.Number("234567890123"),
		"OrderId":     "o-1",
		"Status":      "CONFIRMED",
		"Success":     true,
		"Amount":      json.Number("10050"),
		"CardId":      json.Number("1234"),
		"RebillId":    "rb-1",
		"Pan":         "430000******0777",
		"ExpDate":     "1230",
	}, "secret")

	update, err := gw.HandleWebhook(context.Background(), payload, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "234567890123", update.Reference)
	assert.Equal(t, "CONFIRMED", update.ReportedStatus)
	assert.Equal(t, domain.StatusSuccess, update.Status)
	assert.Equal(t, map[string]any{"card_id": "1234", "rebill_id": "rb-1", "card_exp_date": "1230"}, update.Metadata)
	assert.NotContains(t, update.Metadata, "pan")
}

func TestHandleWebhookRejectsForgedToken(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)

	forged := signedPayload(map[string]any{"PaymentId": "234567890123", "Status": "CONFIRMED"}, "different-secret")
	_, err = gw.HandleWebhook(context.Background(), forged, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	unsigned := map[string]any{"PaymentId": "234567890123", "Status": "CONFIRMED"}
	_, err = gw.HandleWebhook(context.Background(), unsigned, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	otherTerminal := signedPayload(map[string]any{"TerminalKey": "Other", "PaymentId": "1", "Status": "CONFIRMED"}, "secret")
	_, err = gw.HandleWebhook(context.Background(), otherTerminal, testCreds)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestHandleWebhookMalformed(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)

	noStatus := signedPayload(map[string]any{"PaymentId": "234567890123"}, "secret")
	_, err = gw.HandleWebhook(context.Background(), noStatus, testCreds)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestIdentify(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)

	id, err := gw.Identify(map[string]any{"PaymentId": float64(234567890123), "Status": "confirmed", "OrderId": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookIdentity{Reference: "234567890123", ReportedStatus: "CONFIRMED", OrderID: "o-1"}, id)

	_, err = gw.Identify(map[string]any{"Status": "CONFIRMED"})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
