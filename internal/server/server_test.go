package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePaymentService struct {
	createResult domain.Result
	lastPartner  snowflake.ID
	lastCreate   domain.CreatePaymentRequest
	lastAcquirer domain.AcquirerType
	createCalls  int

	intent        *domain.PaymentIntent
	refundResult  bool
	lastRefund    *decimal.Decimal
	refundCalls   int
	externalState *domain.Status
	listed        []domain.PaymentIntent
	lastLimit     int
}

func (f *fakePaymentService) CreatePayment(ctx context.Context, partnerID snowflake.ID, req domain.CreatePaymentRequest, acquirer domain.AcquirerType) domain.Result {
	f.createCalls++
	f.lastPartner = partnerID
	f.lastCreate = req
	f.lastAcquirer = acquirer
	return f.createResult
}

func (f *fakePaymentService) RefundPayment(ctx context.Context, intent *domain.PaymentIntent, amount *decimal.Decimal) bool {
	f.refundCalls++
	f.lastRefund = amount
	return f.refundResult
}

func (f *fakePaymentService) GetExternalStatus(ctx context.Context, intent *domain.PaymentIntent) *domain.Status {
	return f.externalState
}

func (f *fakePaymentService) GetPayment(ctx context.Context, id snowflake.ID) (*domain.PaymentIntent, error) {
	if f.intent == nil || f.intent.ID != id {
		return nil, domain.ErrPaymentNotFound
	}
	return f.intent, nil
}

func (f *fakePaymentService) ListPayments(ctx context.Context, partnerID snowflake.ID, limit int) ([]domain.PaymentIntent, error) {
	f.lastPartner = partnerID
	f.lastLimit = limit
	return f.listed, nil
}

type fakeWebhookService struct {
	outcome      domain.Outcome
	lastProvider string
	lastPayload  map[string]any
	calls        int
}

func (f *fakeWebhookService) Reconcile(ctx context.Context, provider string, payload map[string]any) domain.Outcome {
	f.calls++
	f.lastProvider = provider
	f.lastPayload = payload
	return f.outcome
}

func newTestServer(payments domain.PaymentService, webhooks domain.WebhookService) *Server {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:   router,
		log:      zap.NewNop(),
		payments: payments,
		webhooks: webhooks,
	}
	srv.registerAPIRoutes()
	srv.registerWebhookRoutes()
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, contentType string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.Error
}
