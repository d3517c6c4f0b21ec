package repository

import (
	"context"
	"errors"

	"SalesSync/internal/apperr"
	"SalesSync/internal/model"

	"gorm.io/gorm"
)

// WatermarkRepository last_update 单行水位线
type WatermarkRepository interface {
	// Get 返回当前水位线，表为空时返回空串
	Get(ctx context.Context) (string, error)
	// Set 在一个事务中替换水位线，保证表中始终只有一行
	Set(ctx context.Context, date string) error
}

type watermarkRepository struct {
	db *gorm.DB
}

func NewWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &watermarkRepository{db: db}
}

func (r *watermarkRepository) Get(ctx context.Context) (string, error) {
	var row model.LastUpdate
	err := r.db.WithContext(ctx).Order("date DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Date, nil
}

func (r *watermarkRepository) Set(ctx context.Context, date string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.LastUpdate{}).Error; err != nil {
			return apperr.StoreWrite("delete", "last_update", err)
		}
		if err := tx.Create(&model.LastUpdate{Date: date}).Error; err != nil {
			return apperr.StoreWrite("insert", "last_update", err)
		}
		return nil
	})
}
