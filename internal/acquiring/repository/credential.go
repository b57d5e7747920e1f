package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"gorm.io/gorm"
)

type credentialRepo struct{}

func ProvideCredentials() domain.CredentialRepository {
	return &credentialRepo{}
}

func (r *credentialRepo) FindActive(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, acquirer domain.AcquirerType) (*domain.AcquirerCredential, error) {
	var item domain.AcquirerCredential
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, acquirer_type, config, is_active, created_at, updated_at
		 FROM acquirer_credentials
		 WHERE partner_id = ? AND acquirer_type = ? AND is_active = ?
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		partnerID,
		acquirer,
		true,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *credentialRepo) Upsert(ctx context.Context, db *gorm.DB, credential *domain.AcquirerCredential) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.Deactivate(ctx, tx, credential.PartnerID, credential.AcquirerType, credential.UpdatedAt); err != nil {
			return err
		}
		return tx.Exec(
			`INSERT INTO acquirer_credentials (
				id, partner_id, acquirer_type, config, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			credential.ID,
			credential.PartnerID,
			credential.AcquirerType,
			credential.Config,
			true,
			credential.CreatedAt,
			credential.UpdatedAt,
		).Error
	})
}

func (r *credentialRepo) Deactivate(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, acquirer domain.AcquirerType, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE acquirer_credentials
		 SET is_active = ?, updated_at = ?
		 WHERE partner_id = ? AND acquirer_type = ? AND is_active = ?`,
		false,
		updatedAt,
		partnerID,
		acquirer,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
