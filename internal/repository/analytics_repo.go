package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"SalesSync/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MonthlyTotal 按 (type, year, month) 汇总
type MonthlyTotal struct {
	Type           string          `json:"type"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	Quantity       decimal.Decimal `json:"quantity"`
	RevenueExclTax decimal.Decimal `json:"revenue_excl_tax"`
	RevenueInclTax decimal.Decimal `json:"revenue_incl_tax"`
}

// ABCFilter ABC 分析的取数条件，From/To 为闭区间
type ABCFilter struct {
	RecordType   string
	Category     string
	Subcategory  string
	CategoryType string
	From         model.Period
	To           model.Period
	// GroupByCodeAP 按 code_ap 而不是商品名归并
	GroupByCodeAP bool
}

// NamedQuantity 单个商品（或辅助编码）的销量
type NamedQuantity struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RegionRevenue 区域收入（不含税），没有匹配到区域的客户归入空区域
type RegionRevenue struct {
	Region   string          `json:"region"`
	TerrType string          `json:"terr_type"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// ErrUnknownDimension 分组维度不在白名单中
var ErrUnknownDimension = errors.New("unknown group dimension")

// groupColumns 分组维度白名单：接口参数 → SQL 列
var groupColumns = map[string]string{
	"category":         "categories.category",
	"subcategory":      "products.subcategory",
	"category_type":    "categories.type",
	"product":          "products.name",
	"code_ap":          "products.code_ap",
	"unit":             "products.unit",
	"manager":          "sales.manager",
	"head_name":        "clients.head_name",
	"client":           "clients.name",
	"client_type":      "clients.type",
	"region":           "clients.region",
	"federal_district": "regions.federal_district",
	"terr_type":        "regions.terr_type",
}

// IsGroupDimension 维度名是否可用于分组汇总
func IsGroupDimension(name string) bool {
	_, ok := groupColumns[name]
	return ok
}

// TotalsFilter 计划/实际对比、因素分析的取数条件，空切片表示不过滤
type TotalsFilter struct {
	Dimensions []string
	Years      []int
	Months     []int
	Category   string
}

// GroupedTotal 按 (year, type, 维度...) 汇总的一行，Group 的键为维度名
type GroupedTotal struct {
	Year           int               `json:"year"`
	Type           string            `json:"type"`
	Group          map[string]string `json:"group"`
	Quantity       decimal.Decimal   `json:"quantity"`
	RevenueExclTax decimal.Decimal   `json:"revenue_excl_tax"`
	RevenueInclTax decimal.Decimal   `json:"revenue_incl_tax"`
}

// AnalyticsRepository 报表查询
type AnalyticsRepository interface {
	MonthlyTotals(ctx context.Context, year int, recordType string) ([]MonthlyTotal, error)
	ProductQuantities(ctx context.Context, filter ABCFilter) ([]NamedQuantity, error)
	RegionRevenue(ctx context.Context, year int, recordType string) ([]RegionRevenue, error)
	GroupedTotals(ctx context.Context, filter TotalsFilter) ([]GroupedTotal, error)
}

type analyticsRepository struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) MonthlyTotals(ctx context.Context, year int, recordType string) ([]MonthlyTotal, error) {
	db := r.db.WithContext(ctx).Model(&model.Sale{}).
		Select("type, year, month, SUM(quantity) AS quantity, " +
			"SUM(revenue_excl_tax) AS revenue_excl_tax, SUM(revenue_incl_tax) AS revenue_incl_tax")
	if year > 0 {
		db = db.Where("year = ?", year)
	}
	if recordType != "" {
		db = db.Where("type = ?", recordType)
	}
	var list []MonthlyTotal
	if err := db.Group("type, year, month").Order("type, year, month").Scan(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *analyticsRepository) ProductQuantities(ctx context.Context, filter ABCFilter) ([]NamedQuantity, error) {
	nameCol := "products.name"
	if filter.GroupByCodeAP {
		nameCol = "products.code_ap"
	}
	db := r.db.WithContext(ctx).Table("sales").
		Select(nameCol+" AS name, SUM(sales.quantity) AS quantity").
		Joins("JOIN products ON products.code = sales.product_code").
		Joins("JOIN categories ON categories.subcat = products.subcategory").
		Where("sales.type = ? AND sales.quantity > 0", filter.RecordType).
		Where("sales.year * 100 + sales.month BETWEEN ? AND ?",
			filter.From.Year*100+filter.From.Month, filter.To.Year*100+filter.To.Month)
	if filter.Category != "" {
		db = db.Where("categories.category = ?", filter.Category)
	}
	if filter.Subcategory != "" {
		db = db.Where("products.subcategory = ?", filter.Subcategory)
	}
	if filter.CategoryType != "" {
		db = db.Where("categories.type = ?", filter.CategoryType)
	}
	var list []NamedQuantity
	if err := db.Group(nameCol).Order("quantity DESC, name ASC").Scan(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *analyticsRepository) RegionRevenue(ctx context.Context, year int, recordType string) ([]RegionRevenue, error) {
	var list []RegionRevenue
	err := r.db.WithContext(ctx).Table("sales").
		Select("COALESCE(regions.region, '') AS region, COALESCE(regions.terr_type, '') AS terr_type, "+
			"SUM(sales.revenue_excl_tax) AS revenue").
		Joins("LEFT JOIN clients ON clients.code = sales.client_code").
		Joins("LEFT JOIN regions ON regions.region = clients.region").
		Where("sales.year = ? AND sales.type = ?", year, recordType).
		Group("regions.region, regions.terr_type").
		Order("revenue DESC, region ASC").
		Scan(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *analyticsRepository) GroupedTotals(ctx context.Context, filter TotalsFilter) ([]GroupedTotal, error) {
	var (
		dims []string
		cols []string
		seen = make(map[string]bool, len(filter.Dimensions))
	)
	for _, d := range filter.Dimensions {
		col, ok := groupColumns[d]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		dims = append(dims, d)
		cols = append(cols, col)
	}

	selects := []string{"sales.year", "sales.type"}
	for i, col := range cols {
		selects = append(selects, fmt.Sprintf("%s AS g%d", col, i))
	}
	selects = append(selects,
		"SUM(sales.quantity) AS quantity",
		"SUM(sales.revenue_excl_tax) AS revenue_excl_tax",
		"SUM(sales.revenue_incl_tax) AS revenue_incl_tax")
	groupBy := strings.Join(append([]string{"sales.year", "sales.type"}, cols...), ", ")

	db := r.db.WithContext(ctx).Table("sales").
		Select(strings.Join(selects, ", ")).
		Joins("LEFT JOIN products ON products.code = sales.product_code").
		Joins("LEFT JOIN categories ON categories.subcat = products.subcategory").
		Joins("LEFT JOIN clients ON clients.code = sales.client_code").
		Joins("LEFT JOIN regions ON regions.region = clients.region")
	if len(filter.Years) > 0 {
		db = db.Where("sales.year IN ?", filter.Years)
	}
	if len(filter.Months) > 0 {
		db = db.Where("sales.month IN ?", filter.Months)
	}
	if filter.Category != "" {
		db = db.Where("categories.category = ?", filter.Category)
	}

	rows, err := db.Group(groupBy).Order(groupBy).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]GroupedTotal, 0)
	for rows.Next() {
		var item GroupedTotal
		values := make([]sql.NullString, len(cols))
		dest := []any{&item.Year, &item.Type}
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &item.Quantity, &item.RevenueExclTax, &item.RevenueInclTax)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		item.Group = make(map[string]string, len(dims))
		for i, d := range dims {
			item.Group[d] = values[i].String
		}
		list = append(list, item)
	}
	return list, rows.Err()
}
