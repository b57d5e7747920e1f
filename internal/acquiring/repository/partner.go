package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"gorm.io/gorm"
)

type partnerRepo struct{}

func ProvidePartners() domain.PartnerRepository {
	return &partnerRepo{}
}

func (r *partnerRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Partner, error) {
	var item domain.Partner
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, is_active, created_at
		 FROM partners
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *partnerRepo) Insert(ctx context.Context, db *gorm.DB, partner *domain.Partner) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO partners (id, name, is_active, created_at) VALUES (?, ?, ?, ?)`,
		partner.ID,
		partner.Name,
		partner.IsActive,
		partner.CreatedAt,
	).Error
}
