package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Find methods return nil, nil when no row matches.
type PaymentRepository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*PaymentIntent, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string, acquirer AcquirerType) (*PaymentIntent, error)
	// TransitionStatus sets status and metadata only while the stored status
	// still equals from. It reports whether a row was changed.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, metadata datatypes.JSON, updatedAt time.Time) (bool, error)
	ListByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, limit int) ([]PaymentIntent, error)
}

type CredentialRepository interface {
	FindActive(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, acquirer AcquirerType) (*AcquirerCredential, error)
	// Upsert deactivates the partner's current credential for the acquirer
	// and stores credential as the active one.
	Upsert(ctx context.Context, db *gorm.DB, credential *AcquirerCredential) error
	Deactivate(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, acquirer AcquirerType, updatedAt time.Time) (bool, error)
}

type PartnerRepository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	Insert(ctx context.Context, db *gorm.DB, partner *Partner) error
}
