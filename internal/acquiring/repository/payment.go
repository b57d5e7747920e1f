package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const paymentColumns = `id, partner_id, amount, currency, status, acquirer_type, acquirer_reference,
	description, order_id, metadata, idempotency_key, created_at, updated_at`

type paymentRepo struct{}

func ProvidePayments() domain.PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	metadata := intent.Metadata
	if len(metadata) == 0 {
		metadata = datatypes.JSON([]byte("{}"))
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.PartnerID,
		intent.Amount,
		intent.Currency,
		intent.Status,
		intent.AcquirerType,
		intent.AcquirerReference,
		intent.Description,
		intent.OrderID,
		metadata,
		intent.IdempotencyKey,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *paymentRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.findOne(ctx, db, `WHERE id = ?`, id)
}

func (r *paymentRepo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.PaymentIntent, error) {
	if key == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `WHERE idempotency_key = ?`, key)
}

func (r *paymentRepo) FindByReference(ctx context.Context, db *gorm.DB, reference string, acquirer domain.AcquirerType) (*domain.PaymentIntent, error) {
	if reference == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `WHERE acquirer_reference = ? AND acquirer_type = ?`, reference, acquirer)
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, metadata datatypes.JSON, updatedAt time.Time) (bool, error) {
	if len(metadata) == 0 {
		metadata = datatypes.JSON([]byte("{}"))
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		metadata,
		updatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *paymentRepo) ListByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, limit int) ([]domain.PaymentIntent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var items []domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payment_intents
		 WHERE partner_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		partnerID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *paymentRepo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payment_intents
		 `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
