package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/smallbiznis/acquiring/internal/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sealer encrypts and decrypts credential maps.
type Sealer interface {
	EncryptConfig(config map[string]any) (string, error)
	DecryptConfig(ref string, blob string) (map[string]any, error)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Vault       *vault.Vault
	Credentials domain.CredentialRepository
	Partners    domain.PartnerRepository
	GenID       *snowflake.Node
	Clock       clock.Clock
}

// Resolver loads, decrypts and validates partner credentials.
type Resolver struct {
	db          *gorm.DB
	log         *zap.Logger
	sealer      Sealer
	credentials domain.CredentialRepository
	partners    domain.PartnerRepository
	genID       *snowflake.Node
	clock       clock.Clock
}

func NewResolver(p Params) *Resolver {
	return New(p.DB, p.Log, p.Vault, p.Credentials, p.Partners, p.GenID, p.Clock)
}

func New(
	db *gorm.DB,
	log *zap.Logger,
	sealer Sealer,
	credentials domain.CredentialRepository,
	partners domain.PartnerRepository,
	genID *snowflake.Node,
	clk clock.Clock,
) *Resolver {
	if clk == nil {
		clk = clock.New()
	}
	return &Resolver{
		db:          db,
		log:         log.Named("acquiring.credential"),
		sealer:      sealer,
		credentials: credentials,
		partners:    partners,
		genID:       genID,
		clock:       clk,
	}
}

// Load returns the partner's active credentials for the gateway's acquirer.
// Failures are ErrCredentialNotFound, vault.ErrDecryption or
// ErrMissingCredentialField; repository errors pass through.
func (r *Resolver) Load(ctx context.Context, partnerID snowflake.ID, gw domain.Gateway) (domain.Credentials, error) {
	acquirer := gw.Type()
	row, err := r.credentials.FindActive(ctx, r.db, partnerID, acquirer)
	if err != nil {
		return domain.Credentials{}, err
	}
	if row == nil {
		return domain.Credentials{}, domain.ErrCredentialNotFound
	}

	raw, err := r.sealer.DecryptConfig(row.ID.String(), row.Config)
	if err != nil {
		r.log.Warn("credential decryption failed",
			zap.String("credential_id", row.ID.String()),
			zap.String("partner_id", partnerID.String()),
			zap.String("acquirer", string(acquirer)),
		)
		return domain.Credentials{}, err
	}

	creds, err := gw.ParseCredentials(raw)
	if err != nil {
		r.log.Warn("credential config incomplete",
			zap.String("credential_id", row.ID.String()),
			zap.String("partner_id", partnerID.String()),
			zap.Error(err),
		)
		return domain.Credentials{}, err
	}
	return creds, nil
}

// Store validates config against the gateway, encrypts it and makes it the
// partner's active credential for that acquirer.
func (r *Resolver) Store(ctx context.Context, partnerID snowflake.ID, gw domain.Gateway, config map[string]any) (*domain.AcquirerCredential, error) {
	if _, err := gw.ParseCredentials(config); err != nil {
		return nil, err
	}
	partner, err := r.partners.FindByID(ctx, r.db, partnerID)
	if err != nil {
		return nil, err
	}
	if partner == nil || !partner.IsActive {
		return nil, domain.ErrInvalidPartner
	}

	blob, err := r.sealer.EncryptConfig(config)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}

	now := r.clock.Now()
	row := &domain.AcquirerCredential{
		ID:           r.genID.Generate(),
		PartnerID:    partnerID,
		AcquirerType: gw.Type(),
		Config:       blob,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.credentials.Upsert(ctx, r.db, row); err != nil {
		return nil, err
	}
	r.log.Info("credential stored",
		zap.String("credential_id", row.ID.String()),
		zap.String("partner_id", partnerID.String()),
		zap.String("acquirer", string(row.AcquirerType)),
	)
	return row, nil
}

// Describe renders a load failure for Result and Outcome messages.
func Describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrCredentialNotFound):
		return "no active acquirer credential"
	case errors.Is(err, vault.ErrDecryption):
		return "acquirer credential could not be decrypted"
	case errors.Is(err, domain.ErrMissingCredentialField):
		return "acquirer credential is incomplete: " + strings.TrimPrefix(err.Error(), domain.ErrMissingCredentialField.Error()+": ")
	default:
		return "acquirer credential lookup failed"
	}
}
