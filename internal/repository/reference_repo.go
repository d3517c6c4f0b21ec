package repository

import (
	"context"

	"SalesSync/internal/apperr"
	"SalesSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// codeChunk IN 查询单批编码数（SQLite 旧版本参数上限 999）
const codeChunk = 500

const insertBatch = 200

// ReferenceRepository 客户/商品/区域维度仓储
type ReferenceRepository interface {
	// ExistingClientCodes 返回 codes 中已存在于 clients 表的编码
	ExistingClientCodes(ctx context.Context, codes []string) (map[string]bool, error)
	ExistingProductCodes(ctx context.Context, codes []string) (map[string]bool, error)
	// Regions 区域参考表，按 region 排序
	Regions(ctx context.Context) ([]model.Region, error)
	// ProductSubcategories 已有商品名 -> 子类，按商品编码排序，跳过没有子类的商品
	ProductSubcategories(ctx context.Context) ([]model.CatalogEntry, error)
	// InsertClients 在一个事务中写入新客户及其复核项，已存在的编码跳过；返回实际写入数
	InsertClients(ctx context.Context, clients []model.Client, review []model.ReviewItem) (int, error)
	InsertProducts(ctx context.Context, products []model.Product, review []model.ReviewItem) (int, error)
}

type referenceRepository struct {
	db *gorm.DB
}

func NewReferenceRepository(db *gorm.DB) ReferenceRepository {
	return &referenceRepository{db: db}
}

func (r *referenceRepository) ExistingClientCodes(ctx context.Context, codes []string) (map[string]bool, error) {
	return r.existingCodes(ctx, &model.Client{}, codes)
}

func (r *referenceRepository) ExistingProductCodes(ctx context.Context, codes []string) (map[string]bool, error) {
	return r.existingCodes(ctx, &model.Product{}, codes)
}

func (r *referenceRepository) existingCodes(ctx context.Context, table any, codes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(codes))
	for start := 0; start < len(codes); start += codeChunk {
		end := min(start+codeChunk, len(codes))
		var batch []string
		if err := r.db.WithContext(ctx).Model(table).
			Where("code IN ?", codes[start:end]).
			Pluck("code", &batch).Error; err != nil {
			return nil, err
		}
		for _, c := range batch {
			found[c] = true
		}
	}
	return found, nil
}

func (r *referenceRepository) Regions(ctx context.Context) ([]model.Region, error) {
	var list []model.Region
	if err := r.db.WithContext(ctx).Order("region ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *referenceRepository) ProductSubcategories(ctx context.Context) ([]model.CatalogEntry, error) {
	var products []model.Product
	if err := r.db.WithContext(ctx).
		Select("code", "name", "subcategory").
		Where("subcategory IS NOT NULL AND subcategory <> ''").
		Order("code ASC").
		Find(&products).Error; err != nil {
		return nil, err
	}
	catalog := make([]model.CatalogEntry, 0, len(products))
	for _, p := range products {
		catalog = append(catalog, model.CatalogEntry{Label: p.Name, Value: *p.Subcategory})
	}
	return catalog, nil
}

func (r *referenceRepository) InsertClients(ctx context.Context, clients []model.Client, review []model.ReviewItem) (int, error) {
	if len(clients) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&clients, insertBatch)
		if res.Error != nil {
			return apperr.StoreWrite("insert", "clients", res.Error)
		}
		inserted = res.RowsAffected
		if len(review) > 0 {
			if err := tx.CreateInBatches(&review, insertBatch).Error; err != nil {
				return apperr.StoreWrite("insert", "review_items", err)
			}
		}
		return nil
	})
	return int(inserted), err
}

func (r *referenceRepository) InsertProducts(ctx context.Context, products []model.Product, review []model.ReviewItem) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&products, insertBatch)
		if res.Error != nil {
			return apperr.StoreWrite("insert", "products", res.Error)
		}
		inserted = res.RowsAffected
		if len(review) > 0 {
			if err := tx.CreateInBatches(&review, insertBatch).Error; err != nil {
				return apperr.StoreWrite("insert", "review_items", err)
			}
		}
		return nil
	})
	return int(inserted), err
}
