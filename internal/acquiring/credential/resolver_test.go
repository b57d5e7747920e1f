package credential_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/acquiring/internal/acquiring/acquiringtest"
	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreThenLoad(t *testing.T) {
	env := acquiringtest.NewEnv(t)
	gw := acquiringtest.NewMockGateway()
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)

	stored, err := env.Resolver.Store(context.Background(), partnerID, gw, map[string]any{
		"terminal_key": "TinkoffBankTest",
		"password":     "secret",
	})
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.NotContains(t, stored.Config, "secret")

	creds, err := env.Resolver.Load(context.Background(), partnerID, gw)
	require.NoError(t, err)
	assert.Equal(t, "TinkoffBankTest", creds.TerminalKey)
	assert.Equal(t, "secret", creds.Password)
}

func TestStoreReplacesActiveCredential(t *testing.T) {
	env := acquiringtest.NewEnv(t)
	gw := acquiringtest.NewMockGateway()
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, map[string]any{"terminal_key": "old", "password": "old"})

	_, err := env.Resolver.Store(context.Background(), partnerID, gw, map[string]any{"terminal_key": "new", "password": "new"})
	require.NoError(t, err)

	creds, err := env.Resolver.Load(context.Background(), partnerID, gw)
	require.NoError(t, err)
	assert.Equal(t, "new", creds.TerminalKey)
}

func TestStoreRejectsIncompleteConfigAndUnknownPartner(t *testing.T) {
	env := acquiringtest.NewEnv(t)
	gw := acquiringtest.NewMockGateway()
	partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)

	_, err := env.Resolver.Store(context.Background(), partnerID, gw, map[string]any{"terminal_key": "T"})
	assert.ErrorIs(t, err, domain.ErrMissingCredentialField)

	_, err = env.Resolver.Store(context.Background(), env.Node.Generate(), gw, map[string]any{"terminal_key": "T", "password": "P"})
	assert.ErrorIs(t, err, domain.ErrInvalidPartner)
}

func TestLoadFailures(t *testing.T) {
	gw := acquiringtest.NewMockGateway()

	t.Run("no credential", func(t *testing.T) {
		env := acquiringtest.NewEnv(t)
		partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, nil)

		_, err := env.Resolver.Load(context.Background(), partnerID, gw)
		assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
		assert.Equal(t, "no active acquirer credential", credential.Describe(err))
	})

	t.Run("foreign key", func(t *testing.T) {
		env := acquiringtest.NewEnv(t)
		partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, map[string]any{"terminal_key": "T", "password": "P"})
		other := acquiringtest.NewEnv(t)
		foreign := credential.New(env.DB, zap.NewNop(), other.Vault, env.Credentials, env.Partners, env.Node, env.Clock)

		_, err := foreign.Load(context.Background(), partnerID, gw)
		assert.ErrorIs(t, err, vault.ErrDecryption)
		assert.Equal(t, "acquirer credential could not be decrypted", credential.Describe(err))
	})

	t.Run("incomplete", func(t *testing.T) {
		env := acquiringtest.NewEnv(t)
		partnerID := env.SeedPartner(t, domain.AcquirerTinkoff, map[string]any{"terminal_key": "T"})

		_, err := env.Resolver.Load(context.Background(), partnerID, gw)
		assert.ErrorIs(t, err, domain.ErrMissingCredentialField)
		assert.Equal(t, "acquirer credential is incomplete: password", credential.Describe(err))
	})
}

func TestDescribeUnknownError(t *testing.T) {
	assert.Equal(t, "acquirer credential lookup failed", credential.Describe(errors.New("connection reset")))
	assert.Equal(t, "acquirer credential lookup failed", credential.Describe(fmt.Errorf("query: %w", context.DeadlineExceeded)))
}
