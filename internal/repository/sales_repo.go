package repository

import (
	"context"

	"SalesSync/internal/apperr"
	"SalesSync/internal/model"

	"gorm.io/gorm"
)

// FactWindowResult 事实窗口替换结果
type FactWindowResult struct {
	Deleted   int `json:"deleted"`
	Inserted  int `json:"inserted"`
	Preserved int `json:"preserved"` // 与人工维护行自然键冲突而未写入的聚合行
}

// SalesRepository 销售事实仓储
type SalesRepository interface {
	// ReplaceFactWindow 在一个事务中删除各 (year, month, recordType) 窗口内 comment='0' 的行并写入 rows；
	// 人工维护行（comment<>'0'）保留，与其自然键相同的聚合行不写入
	ReplaceFactWindow(ctx context.Context, recordType string, periods []model.Period, rows []model.Sale) (FactWindowResult, error)
	// ListWindow 读取窗口内全部行（含人工维护行）
	ListWindow(ctx context.Context, recordType string, periods []model.Period) ([]model.Sale, error)
}

type salesRepository struct {
	db *gorm.DB
}

func NewSalesRepository(db *gorm.DB) SalesRepository {
	return &salesRepository{db: db}
}

func (r *salesRepository) ReplaceFactWindow(ctx context.Context, recordType string, periods []model.Period, rows []model.Sale) (FactWindowResult, error) {
	var result FactWindowResult
	if len(periods) == 0 {
		return result, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 逐个 (year, month) 精确删除，不能用年份×月份的笛卡尔积
		for _, p := range periods {
			res := tx.Where("year = ? AND month = ? AND type = ? AND comment = ?", p.Year, p.Month, recordType, model.CommentNone).
				Delete(&model.Sale{})
			if res.Error != nil {
				return apperr.StoreWrite("delete", "sales", res.Error)
			}
			result.Deleted += int(res.RowsAffected)
		}

		kept, err := listWindow(tx, recordType, periods)
		if err != nil {
			return apperr.StoreWrite("select", "sales", err)
		}
		manual := make(map[model.FactKey]bool, len(kept))
		for i := range kept {
			manual[model.SaleKey(&kept[i])] = true
		}

		toInsert := make([]model.Sale, 0, len(rows))
		for i := range rows {
			if manual[model.SaleKey(&rows[i])] {
				result.Preserved++
				continue
			}
			toInsert = append(toInsert, rows[i])
		}
		if len(toInsert) > 0 {
			res := tx.CreateInBatches(&toInsert, insertBatch)
			if res.Error != nil {
				return apperr.StoreWrite("insert", "sales", res.Error)
			}
			result.Inserted = int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return FactWindowResult{}, err
	}
	return result, nil
}

func (r *salesRepository) ListWindow(ctx context.Context, recordType string, periods []model.Period) ([]model.Sale, error) {
	return listWindow(r.db.WithContext(ctx), recordType, periods)
}

func listWindow(db *gorm.DB, recordType string, periods []model.Period) ([]model.Sale, error) {
	var list []model.Sale
	if len(periods) == 0 {
		return list, nil
	}
	cond := db.Where("year = ? AND month = ?", periods[0].Year, periods[0].Month)
	for _, p := range periods[1:] {
		cond = cond.Or("year = ? AND month = ?", p.Year, p.Month)
	}
	if err := db.Where("type = ?", recordType).Where(cond).
		Order("year, month, client_code, product_code, manager").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
