package repository

import (
	"context"

	"SalesSync/internal/model"

	"gorm.io/gorm"
)

// ReviewRepository 人工复核队列
type ReviewRepository interface {
	ListOpen(ctx context.Context, kind string, limit int) ([]*model.ReviewItem, error)
	// Resolve 标记为已处理，返回是否存在该记录
	Resolve(ctx context.Context, id uint64) (bool, error)
}

type reviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) ReviewRepository {
	return &reviewRepository{db: db}
}

func (r *reviewRepository) ListOpen(ctx context.Context, kind string, limit int) ([]*model.ReviewItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := r.db.WithContext(ctx).Where("resolved = ?", false)
	if kind != "" {
		db = db.Where("kind = ?", kind)
	}
	var list []*model.ReviewItem
	if err := db.Order("id ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *reviewRepository) Resolve(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ReviewItem{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
