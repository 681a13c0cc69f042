package repository

import (
	"context"

	"github.com/x402wrap/x402wrap/internal/app/model"
	"gorm.io/gorm"
)

// AuditRepository stores operator-facing audit events delivered through the
// NATS pipeline.
type AuditRepository interface {
	Create(ctx context.Context, event *model.AuditEvent) error
	RecentByLink(ctx context.Context, linkID string, limit int) ([]model.AuditEvent, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository returns a GORM-backed AuditRepository.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *auditRepository) RecentByLink(ctx context.Context, linkID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []model.AuditEvent
	err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
