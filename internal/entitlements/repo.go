package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipmint/clipmint-backend/pkg/db/models"
	"github.com/clipmint/clipmint-backend/pkg/enums"
)

// Repository manages persistence for entitlement records. The composite unique
// key (video_id, buyer_wallet) is enforced by the database, not the
// application: concurrent settlements for the same pair converge on one row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, record *models.Entitlement) (*models.Entitlement, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, signature string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	GetByVideoAndBuyer(ctx context.Context, videoID, buyerWallet string) (*models.Entitlement, error)
	ListByBuyer(ctx context.Context, buyerWallet string, limit int) ([]models.Entitlement, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Entitlement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an entitlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert inserts the record or, on a (video_id, buyer_wallet) conflict,
// refreshes the existing row. A completed row is never overwritten: the update
// is guarded so a late or concurrent attempt cannot demote a granted
// entitlement. The row as stored is returned.
func (r *repository) Upsert(ctx context.Context, record *models.Entitlement) (*models.Entitlement, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}, {Name: "buyer_wallet"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{
				Column: clause.Column{Table: "entitlements", Name: "status"},
				Value:  string(enums.EntitlementStatusCompleted),
			},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"creator_wallet", "amount_paid", "platform_fee", "creator_payout",
			"transaction_signature", "flow", "status", "failure_reason",
			"completed_at", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return nil, err
	}
	return r.GetByVideoAndBuyer(ctx, record.VideoID, record.BuyerWallet)
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, signature string, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Entitlement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                enums.EntitlementStatusCompleted,
			"transaction_signature": signature,
			"failure_reason":        nil,
			"completed_at":          completedAt,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Entitlement{}).
		Where("id = ? AND status <> ?", id, enums.EntitlementStatusCompleted).
		Updates(map[string]any{
			"status":         enums.EntitlementStatusFailed,
			"failure_reason": reason,
		}).Error
}

// GetByVideoAndBuyer returns the record for the pair, or nil when none exists.
func (r *repository) GetByVideoAndBuyer(ctx context.Context, videoID, buyerWallet string) (*models.Entitlement, error) {
	var record models.Entitlement
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND buyer_wallet = ?", videoID, buyerWallet).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerWallet string, limit int) ([]models.Entitlement, error) {
	var records []models.Entitlement
	query := r.db.WithContext(ctx).
		Where("buyer_wallet = ?", buyerWallet).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListPending returns pending records last touched before olderThan, oldest
// first, for the reconciler to re-check against the ledger.
func (r *repository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Entitlement, error) {
	var records []models.Entitlement
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.EntitlementStatusPending, olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
