package repository

import (
	"context"

	"SalesSync/internal/model"

	"gorm.io/gorm"
)

// RunRepository 更新任务执行记录
type RunRepository interface {
	Create(ctx context.Context, run *model.UpdateRun) error
	// Finish 回写结果字段
	Finish(ctx context.Context, run *model.UpdateRun) error
	// List 最近的执行记录，按开始时间倒序
	List(ctx context.Context, limit int) ([]*model.UpdateRun, error)
}

type runRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *model.UpdateRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *runRepository) Finish(ctx context.Context, run *model.UpdateRun) error {
	return r.db.WithContext(ctx).Model(&model.UpdateRun{}).Where("id = ?", run.ID).
		Select("subject", "watermark", "status", "new_clients", "new_products", "fact_rows",
			"preserved_rows", "flagged", "error", "details", "finished_at").
		Updates(run).Error
}

func (r *runRepository) List(ctx context.Context, limit int) ([]*model.UpdateRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var list []*model.UpdateRun
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
