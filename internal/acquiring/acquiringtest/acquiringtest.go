// Package acquiringtest holds fixtures shared by the acquiring package tests.
package acquiringtest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/repository"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/smallbiznis/acquiring/internal/vault"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// SetupDB opens a private in-memory sqlite database with the acquiring schema.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{
		`CREATE TABLE partners (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE acquirer_credentials (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			acquirer_type TEXT NOT NULL,
			config TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_intents (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			amount NUMERIC(18, 2) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			acquirer_type TEXT NOT NULL,
			acquirer_reference TEXT,
			description TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			idempotency_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_intents_idempotency_key ON payment_intents(idempotency_key)`,
		`CREATE UNIQUE INDEX ux_payment_intents_acquirer_reference ON payment_intents(acquirer_reference, acquirer_type)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func NewVault(t *testing.T) *vault.Vault {
	t.Helper()
	material := make([]byte, 32)
	_, err := rand.Read(material)
	require.NoError(t, err)
	v, err := vault.New(vault.Config{Key: "base64:" + base64.StdEncoding.EncodeToString(material)}, zap.NewNop())
	require.NoError(t, err)
	return v
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Env bundles the collaborators every acquiring service needs.
type Env struct {
	DB          *gorm.DB
	Vault       *vault.Vault
	Node        *snowflake.Node
	Clock       *clock.FakeClock
	Payments    domain.PaymentRepository
	Credentials domain.CredentialRepository
	Partners    domain.PartnerRepository
	Resolver    *credential.Resolver
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	env := &Env{
		DB:          SetupDB(t),
		Vault:       NewVault(t),
		Node:        NewNode(t),
		Clock:       clock.NewFakeClock(Epoch),
		Payments:    repository.ProvidePayments(),
		Credentials: repository.ProvideCredentials(),
		Partners:    repository.ProvidePartners(),
	}
	env.Resolver = credential.New(env.DB, zap.NewNop(), env.Vault, env.Credentials, env.Partners, env.Node, env.Clock)
	return env
}

// SeedPartner inserts an active partner and stores config as its active
// credential for acquirer. A nil config skips the credential.
func (e *Env) SeedPartner(t *testing.T, acquirer domain.AcquirerType, config map[string]any) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	id := e.Node.Generate()
	require.NoError(t, e.Partners.Insert(ctx, e.DB, &domain.Partner{ID: id, Name: "partner " + id.String(), IsActive: true, CreatedAt: Epoch}))
	if config == nil {
		return id
	}
	blob, err := e.Vault.EncryptConfig(config)
	require.NoError(t, err)
	require.NoError(t, e.Credentials.Upsert(ctx, e.DB, &domain.AcquirerCredential{
		ID:           e.Node.Generate(),
		PartnerID:    id,
		AcquirerType: acquirer,
		Config:       blob,
		IsActive:     true,
		CreatedAt:    Epoch,
		UpdatedAt:    Epoch,
	}))
	return id
}

// SeedIntent stores an intent for partnerID with the given status and reference.
func (e *Env) SeedIntent(t *testing.T, partnerID snowflake.ID, status domain.Status, reference string) *domain.PaymentIntent {
	t.Helper()
	intent := &domain.PaymentIntent{
		ID:             e.Node.Generate(),
		PartnerID:      partnerID,
		Amount:         decimal.RequireFromString("100.50"),
		Currency:       domain.DefaultCurrency,
		Status:         status,
		AcquirerType:   domain.AcquirerTinkoff,
		IdempotencyKey: "seed-" + e.Node.Generate().String(),
		CreatedAt:      Epoch,
		UpdatedAt:      Epoch,
	}
	if reference != "" {
		intent.AcquirerReference = &reference
	}
	require.NoError(t, e.Payments.Insert(context.Background(), e.DB, intent))
	return intent
}

// Reload reads the intent back from storage.
func (e *Env) Reload(t *testing.T, id snowflake.ID) *domain.PaymentIntent {
	t.Helper()
	intent, err := e.Payments.FindByID(context.Background(), e.DB, id)
	require.NoError(t, err)
	require.NotNil(t, intent)
	return intent
}

func (e *Env) CountIntents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Raw(`SELECT COUNT(*) FROM payment_intents`).Scan(&n).Error)
	return n
}

// MockGateway is a testify mock of domain.Gateway. Type and ParseCredentials
// are answered directly; the remaining methods go through the mock.
type MockGateway struct {
	mock.Mock
	Acquirer domain.AcquirerType
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Acquirer: domain.AcquirerTinkoff}
}

func (m *MockGateway) Type() domain.AcquirerType { return m.Acquirer }

func (m *MockGateway) ParseCredentials(raw map[string]any) (domain.Credentials, error) {
	terminalKey, _ := raw["terminal_key"].(string)
	if terminalKey == "" {
		return domain.Credentials{}, domain.MissingCredentialField("terminal_key")
	}
	password, _ := raw["password"].(string)
	if password == "" {
		return domain.Credentials{}, domain.MissingCredentialField("password")
	}
	return domain.Credentials{TerminalKey: terminalKey, Password: password}, nil
}

func (m *MockGateway) InitiatePayment(ctx context.Context, req domain.InitiateRequest, creds domain.Credentials) (domain.InitiateResult, error) {
	args := m.Called(ctx, req, creds)
	return args.Get(0).(domain.InitiateResult), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, intent *domain.PaymentIntent, amount *decimal.Decimal, creds domain.Credentials) (bool, error) {
	args := m.Called(ctx, intent, amount, creds)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, reference string, creds domain.Credentials) (domain.Status, error) {
	args := m.Called(ctx, reference, creds)
	return args.Get(0).(domain.Status), args.Error(1)
}

func (m *MockGateway) Identify(payload map[string]any) (domain.WebhookIdentity, error) {
	args := m.Called(payload)
	return args.Get(0).(domain.WebhookIdentity), args.Error(1)
}

func (m *MockGateway) HandleWebhook(ctx context.Context, payload map[string]any, creds domain.Credentials) (*domain.WebhookUpdate, error) {
	args := m.Called(ctx, payload, creds)
	update, _ := args.Get(0).(*domain.WebhookUpdate)
	return update, args.Error(1)
}

// Factory hands out the same gateway on every resolve.
type Factory struct {
	Gateway domain.Gateway
}

func (f Factory) Type() domain.AcquirerType { return f.Gateway.Type() }

func (f Factory) NewGateway() (domain.Gateway, error) { return f.Gateway, nil }
