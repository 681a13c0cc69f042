package repository

import (
	"context"
	"errors"
	"time"

	"github.com/x402wrap/x402wrap/internal/app/model"
	"gorm.io/gorm"
)

// ErrReferenceUsed signals that a payment reference was already consumed by
// an earlier call.
var ErrReferenceUsed = errors.New("payment reference already used")

// UsageRepository is the append-only usage ledger. Record is the only write
// path that touches the Link counters.
type UsageRepository interface {
	// Record appends one usage record and, in the same transaction, bumps
	// the owning link's counters with single-statement increments so that
	// concurrent calls against the same link cannot lose updates. Revenue
	// is incremented only for successful (charged) calls.
	Record(ctx context.Context, rec *model.UsageRecord) error
	// ReferenceUsed reports whether a payment reference already appears in
	// the ledger.
	ReferenceUsed(ctx context.Context, reference string) (bool, error)
	RecentByLink(ctx context.Context, linkID string, limit int) ([]model.UsageRecord, error)
	AggregateSince(ctx context.Context, linkID string, since time.Time) (model.UsageWindow, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository returns a GORM-backed UsageRepository.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Record(ctx context.Context, rec *model.UsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrReferenceUsed
			}
			return err
		}

		updates := map[string]interface{}{
			"total_requests": gorm.Expr("total_requests + 1"),
		}
		if rec.Success {
			updates["total_revenue"] = gorm.Expr("total_revenue + ?", rec.Amount)
		}

		result := tx.Model(&model.Link{}).
			Where("id = ?", rec.LinkID).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		return nil
	})
}

func (r *usageRepository) ReferenceUsed(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UsageRecord{}).
		Where("reference = ?", reference).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *usageRepository) RecentByLink(ctx context.Context, linkID string, limit int) ([]model.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []model.UsageRecord
	err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *usageRepository) AggregateSince(ctx context.Context, linkID string, since time.Time) (model.UsageWindow, error) {
	var window model.UsageWindow
	err := r.db.WithContext(ctx).
		Model(&model.UsageRecord{}).
		Select("COUNT(*) AS count, COALESCE(SUM(CASE WHEN success THEN amount ELSE 0 END), 0) AS revenue").
		Where("link_id = ? AND timestamp > ?", linkID, since).
		Scan(&window).Error
	if err != nil {
		return model.UsageWindow{}, err
	}
	return window, nil
}
