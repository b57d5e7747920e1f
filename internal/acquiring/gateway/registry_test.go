package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	acquirer domain.AcquirerType
}

func (g *stubGateway) Type() domain.AcquirerType { return g.acquirer }

func (g *stubGateway) ParseCredentials(map[string]any) (domain.Credentials, error) {
	return domain.Credentials{}, nil
}

func (g *stubGateway) InitiatePayment(context.Context, domain.InitiateRequest, domain.Credentials) (domain.InitiateResult, error) {
	return domain.InitiateResult{}, nil
}

func (g *stubGateway) Refund(context.Context, *domain.PaymentIntent, *decimal.Decimal, domain.Credentials) (bool, error) {
	return false, nil
}

func (g *stubGateway) GetStatus(context.Context, string, domain.Credentials) (domain.Status, error) {
	return domain.StatusPending, nil
}

func (g *stubGateway) Identify(map[string]any) (domain.WebhookIdentity, error) {
	return domain.WebhookIdentity{}, nil
}

func (g *stubGateway) HandleWebhook(context.Context, map[string]any, domain.Credentials) (*domain.WebhookUpdate, error) {
	return nil, nil
}

type stubFactory struct {
	acquirer domain.AcquirerType
}

func (f stubFactory) Type() domain.AcquirerType { return f.acquirer }

func (f stubFactory) NewGateway() (domain.Gateway, error) {
	return &stubGateway{acquirer: f.acquirer}, nil
}

func TestResolve(t *testing.T) {
	registry := NewRegistry(domain.AcquirerTinkoff,
		stubFactory{acquirer: domain.AcquirerTinkoff},
		stubFactory{acquirer: "sberbank"},
		nil,
	)

	gw, err := registry.Resolve("TINKOFF")
	require.NoError(t, err)
	assert.Equal(t, domain.AcquirerTinkoff, gw.Type())

	gw, err = registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, domain.AcquirerTinkoff, gw.Type())

	gw, err = registry.Resolve("sberbank")
	require.NoError(t, err)
	assert.Equal(t, domain.AcquirerType("sberbank"), gw.Type())

	_, err = registry.Resolve("paypal")
	assert.ErrorIs(t, err, domain.ErrUnknownAcquirer)

	assert.Equal(t, []domain.AcquirerType{"sberbank", "tinkoff"}, registry.Types())
	assert.True(t, registry.Exists("tinkoff"))
	assert.False(t, registry.Exists("paypal"))
}

func TestRegistrySkipsNonCanonicalFactoryType(t *testing.T) {
	registry := NewRegistry(domain.AcquirerTinkoff,
		stubFactory{acquirer: domain.AcquirerTinkoff},
		stubFactory{acquirer: " Sberbank "},
		stubFactory{acquirer: ""},
	)

	_, err := registry.Resolve("sberbank")
	assert.ErrorIs(t, err, domain.ErrUnknownAcquirer)
	assert.False(t, registry.Exists(" Sberbank "))
	assert.Equal(t, []domain.AcquirerType{domain.AcquirerTinkoff}, registry.Types())

	for _, acquirer := range registry.Types() {
		gw, err := registry.Resolve(acquirer)
		require.NoError(t, err)
		assert.Equal(t, acquirer, gw.Type())
	}
}

func TestResolveUnknownDefault(t *testing.T) {
	registry := NewRegistry("missing", stubFactory{acquirer: domain.AcquirerTinkoff})
	_, err := registry.Resolve("")
	assert.ErrorIs(t, err, domain.ErrUnknownAcquirer)

	var nilRegistry *Registry
	_, err = nilRegistry.Resolve(domain.AcquirerTinkoff)
	assert.ErrorIs(t, err, domain.ErrUnknownAcquirer)
}
