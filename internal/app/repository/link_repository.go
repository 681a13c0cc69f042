package repository

import (
	"context"
	"errors"

	"github.com/x402wrap/x402wrap/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateID signals an ID collision on create.
	ErrDuplicateID = errors.New("link id already exists")
)

// LinkRepository defines the data access contract for payment-gated links.
// There is deliberately no update path: price and wallet are immutable and
// the counters belong to the usage ledger write path.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByID(ctx context.Context, id string) (*model.Link, error)
	List(ctx context.Context, limit int) ([]model.Link, error)
	GlobalTotals(ctx context.Context) (links int64, requests int64, revenue float64, err error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) List(ctx context.Context, limit int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 20
	}

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func (r *linkRepository) GlobalTotals(ctx context.Context) (int64, int64, float64, error) {
	var totals struct {
		Links    int64
		Requests int64
		Revenue  float64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Select("COUNT(*) AS links, COALESCE(SUM(total_requests), 0) AS requests, COALESCE(SUM(total_revenue), 0) AS revenue").
		Scan(&totals).Error
	if err != nil {
		return 0, 0, 0, err
	}
	return totals.Links, totals.Requests, totals.Revenue, nil
}
