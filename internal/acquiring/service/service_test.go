package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/acquiringtest"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var tinkoffConfig = map[string]any{"terminal_key": "TinkoffBankTest", "password": "secret"}

func newTestService(t *testing.T, gw *acquiringtest.MockGateway) (*Service, *acquiringtest.Env) {
	t.Helper()
	env := acquiringtest.NewEnv(t)
	svc := New(Params{
		DB:          env.DB,
		Log:         zap.NewNop(),
		GenID:       env.Node,
		Clock:       env.Clock,
		Registry:    gateway.NewRegistry(domain.AcquirerTinkoff, acquiringtest.Factory{Gateway: gw}),
		Credentials: env.Resolver,
		Payments:    env.Payments,
		Partners:    env.Partners,
	})
	return svc, env
}

func TestCreatePaymentAndReplay(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)

	gw.On("InitiatePayment", mock.Anything, mock.MatchedBy(func(req domain.InitiateRequest) bool {
		return req.Amount.Equal(decimal.RequireFromString("100.50")) && req.Currency == "RUB" && req.PaymentID != ""
	}), domain.Credentials{TerminalKey: "TinkoffBankTest", Password: "secret"}).Return(domain.InitiateResult{
		Status:      domain.ResultSuccess,
		Reference:   "234567890123",
		RedirectURL: "https://securepay.tinkoff.ru/new/abc",
	}, nil).Once()

	ctx := context.Background()
	first := svc.CreatePayment(ctx, partnerID, domain.CreatePaymentRequest{
		Amount:  decimal.RequireFromString("100.50"),
		OrderID: "order-1",
	}, domain.AcquirerTinkoff)

	require.Equal(t, domain.ResultSuccess, first.Status, first.ErrorMessage)
	require.NotNil(t, first.Intent)
	assert.False(t, first.Replayed)
	assert.Equal(t, domain.StatusPending, first.Intent.Status)
	assert.Equal(t, "234567890123", first.Intent.Reference())
	assert.NotEmpty(t, first.Intent.IdempotencyKey)
	assert.Equal(t, "https://securepay.tinkoff.ru/new/abc", first.RedirectURL)

	stored := env.Reload(t, first.Intent.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "234567890123", stored.Reference())
	assert.True(t, decimal.RequireFromString("100.50").Equal(stored.Amount))
	assert.JSONEq(t, `{"redirect_url":"https://securepay.tinkoff.ru/new/abc","requires_3ds":false}`, string(stored.Metadata))

	second := svc.CreatePayment(ctx, partnerID, domain.CreatePaymentRequest{
		Amount:         decimal.RequireFromString("100.50"),
		OrderID:        "order-1",
		IdempotencyKey: first.Intent.IdempotencyKey,
	}, domain.AcquirerTinkoff)

	require.Equal(t, domain.ResultSuccess, second.Status)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Intent.ID, second.Intent.ID)
	assert.Equal(t, "https://securepay.tinkoff.ru/new/abc", second.RedirectURL)
	gw.AssertNumberOfCalls(t, "InitiatePayment", 1)
	assert.Equal(t, int64(1), env.CountIntents(t))
}

func TestCreatePaymentIdempotencyKeyIsScopedToPartner(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	owner := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
	other := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)

	existing := env.SeedIntent(t, owner, domain.StatusPending, "234567890123")
	require.NoError(t, env.DB.Exec(`UPDATE payment_intents SET idempotency_key = ? WHERE id = ?`, "shared-key", existing.ID).Error)

	res := svc.CreatePayment(context.Background(), other, domain.CreatePaymentRequest{
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "shared-key",
	}, domain.AcquirerTinkoff)

	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "idempotency key already used by another partner", res.ErrorMessage)
	assert.Nil(t, res.Intent)
	gw.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), env.CountIntents(t))
}

func TestCreatePaymentGatewayErrorIsVerbatim(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)

	gw.On("InitiatePayment", mock.Anything, mock.Anything, mock.Anything).Return(domain.InitiateResult{
		Status:       domain.ResultError,
		ErrorMessage: "Неверные параметры",
		ErrorCode:    "9999",
		Details:      "Amount is too small",
	}, nil)

	res := svc.CreatePayment(context.Background(), partnerID, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, "")
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "Неверные параметры", res.ErrorMessage)
	assert.Equal(t, "9999", res.ErrorCode)
	assert.Equal(t, "Amount is too small", res.Details)
	assert.Nil(t, res.Intent)
	assert.Zero(t, env.CountIntents(t))
}

func TestCreatePaymentGatewayFailuresBecomeResults(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(gw *acquiringtest.MockGateway)
		message string
	}{
		{
			name: "error",
			setup: func(gw *acquiringtest.MockGateway) {
				gw.On("InitiatePayment", mock.Anything, mock.Anything, mock.Anything).
					Return(domain.InitiateResult{}, errors.New("dial tcp: connection refused"))
			},
			message: "dial tcp: connection refused",
		},
		{
			name: "panic",
			setup: func(gw *acquiringtest.MockGateway) {
				gw.On("InitiatePayment", mock.Anything, mock.Anything, mock.Anything).
					Run(func(mock.Arguments) { panic("boom") })
			},
			message: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := acquiringtest.NewMockGateway()
			svc, env := newTestService(t, gw)
			partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
			tt.setup(gw)

			res := svc.CreatePayment(context.Background(), partnerID, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(10)}, domain.AcquirerTinkoff)
			assert.Equal(t, domain.ResultError, res.Status)
			assert.Equal(t, tt.message, res.ErrorMessage)
			assert.Zero(t, env.CountIntents(t))
		})
	}
}

func TestCreatePaymentBusinessErrors(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	ctx := context.Background()

	withoutCredential := env.SeedPartner(t, domain.AcquirerTinkoff, nil)
	incomplete := env.SeedPartner(t, domain.AcquirerTinkoff, map[string]any{"terminal_key": "T"})
	valid := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)

	tests := []struct {
		name      string
		partnerID snowflake.ID
		req       domain.CreatePaymentRequest
		acquirer  domain.AcquirerType
		message   string
	}{
		{"no credential", withoutCredential, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, domain.AcquirerTinkoff, "no active acquirer credential"},
		{"incomplete credential", incomplete, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, domain.AcquirerTinkoff, "acquirer credential is incomplete: password"},
		{"unknown acquirer", valid, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, "paypal", "unknown acquirer type"},
		{"zero amount", valid, domain.CreatePaymentRequest{Amount: decimal.Zero}, domain.AcquirerTinkoff, "amount must be greater than zero"},
		{"three fraction digits", valid, domain.CreatePaymentRequest{Amount: decimal.RequireFromString("1.005")}, domain.AcquirerTinkoff, "amount must have at most two fraction digits"},
		{"bad currency", valid, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1), Currency: "RUBLES"}, domain.AcquirerTinkoff, "currency must be a three-letter ISO 4217 code"},
		{"unknown partner", snowflake.ID(42), domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, domain.AcquirerTinkoff, "partner not found or inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.CreatePayment(ctx, tt.partnerID, tt.req, tt.acquirer)
			assert.Equal(t, domain.ResultError, res.Status)
			assert.Equal(t, tt.message, res.ErrorMessage)
		})
	}
	gw.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePaymentUndecryptableCredential(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)

	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)
	foreign := acquiringtest.NewVault(t)
	blob, err := foreign.EncryptConfig(tinkoffConfig)
	require.NoError(t, err)
	require.NoError(t, env.Credentials.Upsert(context.Background(), env.DB, &domain.AcquirerCredential{
		ID: env.Node.Generate(), PartnerID: partnerID, AcquirerType: domain.AcquirerTinkoff, Config: blob,
		CreatedAt: acquiringtest.Epoch, UpdatedAt: acquiringtest.Epoch,
	}))

	res := svc.CreatePayment(context.Background(), partnerID, domain.CreatePaymentRequest{Amount: decimal.NewFromInt(1)}, domain.AcquirerTinkoff)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "acquirer credential could not be decrypted", res.ErrorMessage)
	gw.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePaymentConcurrentInsertReturnsWinner(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)

	var winnerID int64
	gw.On("InitiatePayment", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// another request with the same key commits first
			winner := env.SeedIntent(t, partnerID, domain.StatusPending, "111")
			require.NoError(t, env.DB.Exec(`UPDATE payment_intents SET idempotency_key = ? WHERE id = ?`, "race-key", winner.ID).Error)
			winnerID = winner.ID.Int64()
		}).
		Return(domain.InitiateResult{Status: domain.ResultSuccess, Reference: "222"}, nil).Once()

	res := svc.CreatePayment(context.Background(), partnerID, domain.CreatePaymentRequest{
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: "race-key",
	}, domain.AcquirerTinkoff)

	require.Equal(t, domain.ResultSuccess, res.Status, res.ErrorMessage)
	assert.True(t, res.Replayed)
	assert.Equal(t, winnerID, res.Intent.ID.Int64())
	assert.Equal(t, int64(1), env.CountIntents(t))
}

func TestRefundPaymentGuards(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
	ctx := context.Background()

	for _, status := range []domain.Status{domain.StatusPending, domain.StatusFailed, domain.StatusCancelled, domain.StatusRefunded} {
		intent := env.SeedIntent(t, partnerID, status, "ref-"+string(status))
		assert.False(t, svc.RefundPayment(ctx, intent, nil), status)
	}

	success := env.SeedIntent(t, partnerID, domain.StatusSuccess, "ref-ok")
	tooMuch := decimal.RequireFromString("100.51")
	assert.False(t, svc.RefundPayment(ctx, success, &tooMuch))
	negative := decimal.NewFromInt(-1)
	assert.False(t, svc.RefundPayment(ctx, success, &negative))
	assert.False(t, svc.RefundPayment(ctx, nil, nil))

	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundPaymentDelegatesWithoutTouchingLedger(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
	intent := env.SeedIntent(t, partnerID, domain.StatusSuccess, "234567890123")

	partial := decimal.RequireFromString("50.25")
	gw.On("Refund", mock.Anything, mock.Anything, &partial, mock.Anything).Return(true, nil).Once()
	gw.On("Refund", mock.Anything, mock.Anything, (*decimal.Decimal)(nil), mock.Anything).Return(false, nil).Once()

	assert.True(t, svc.RefundPayment(context.Background(), intent, &partial))
	assert.False(t, svc.RefundPayment(context.Background(), intent, nil))
	assert.Equal(t, domain.StatusSuccess, env.Reload(t, intent.ID).Status)
	gw.AssertExpectations(t)
}

func TestRefundPaymentGatewayErrorIsFalse(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
	intent := env.SeedIntent(t, partnerID, domain.StatusSuccess, "234567890123")

	gw.On("Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, &domain.TransportError{Operation: "Cancel", StatusCode: 503})
	assert.False(t, svc.RefundPayment(context.Background(), intent, nil))
}

func TestRefundPaymentWithoutCredential(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)
	intent := env.SeedIntent(t, partnerID, domain.StatusSuccess, "234567890123")

	assert.False(t, svc.RefundPayment(context.Background(), intent, nil))
	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetExternalStatus(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, tinkoffConfig)
	ctx := context.Background()

	intent := env.SeedIntent(t, partnerID, domain.StatusPending, "234567890123")
	gw.On("GetStatus", mock.Anything, "234567890123", mock.Anything).Return(domain.StatusSuccess, nil).Once()

	status := svc.GetExternalStatus(ctx, intent)
	require.NotNil(t, status)
	assert.Equal(t, domain.StatusSuccess, *status)

	gw.On("GetStatus", mock.Anything, "234567890123", mock.Anything).Return(domain.Status(""), errors.New("timeout")).Once()
	assert.Nil(t, svc.GetExternalStatus(ctx, intent))

	noReference := env.SeedIntent(t, partnerID, domain.StatusPending, "")
	assert.Nil(t, svc.GetExternalStatus(ctx, noReference))

	orphan := env.SeedIntent(t, env.SeedPartner(t, domain.AcquirerTinkoff, nil), domain.StatusPending, "999")
	assert.Nil(t, svc.GetExternalStatus(ctx, orphan))

	gw.AssertNumberOfCalls(t, "GetStatus", 2)
}

func TestGetPayment(t *testing.T) {
	gw := acquiringtest.NewMockGateway()
	svc, env := newTestService(t, gw)
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)
	intent := env.SeedIntent(t, partnerID, domain.StatusPending, "1")

	got, err := svc.GetPayment(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)

	_, err = svc.GetPayment(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	items, err := svc.ListPayments(context.Background(), partnerID, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
