package repository

import (
	"context"
	"testing"

	"SalesSync/internal/config"
	"SalesSync/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db, err := OpenDB(config.DatabaseConfig{
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, logger)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func sale(year, month int, client, product, comment string, qty int64) model.Sale {
	return model.Sale{
		Year: year, Month: month, Type: "Факт",
		ClientCode: client, ProductCode: product, Manager: "Иванов",
		Quantity:       decimal.NewFromInt(qty),
		RevenueExclTax: decimal.NewFromInt(qty * 100),
		RevenueInclTax: decimal.NewFromInt(qty * 120),
		Comment:        comment,
	}
}

func strPtr(s string) *string { return &s }

func TestReplaceFactWindowDeletesExactPeriods(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSalesRepository(db)

	seed := []model.Sale{
		sale(2023, 12, "C1", "P1", "0", 1),
		sale(2024, 1, "C1", "P1", "0", 1),
		sale(2023, 1, "C1", "P1", "0", 1),  // 笛卡尔积会误删
		sale(2024, 12, "C1", "P1", "0", 1), // 同上
	}
	require.NoError(t, db.Create(&seed).Error)

	periods := []model.Period{{Year: 2023, Month: 12}, {Year: 2024, Month: 1}}
	res, err := repo.ReplaceFactWindow(ctx, "Факт", periods, []model.Sale{
		sale(2023, 12, "C2", "P2", "0", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Inserted)

	var total int64
	require.NoError(t, db.Model(&model.Sale{}).Count(&total).Error)
	assert.EqualValues(t, 3, total)

	var untouched int64
	require.NoError(t, db.Model(&model.Sale{}).
		Where("(year = 2023 AND month = 1) OR (year = 2024 AND month = 12)").Count(&untouched).Error)
	assert.EqualValues(t, 2, untouched)
}

func TestReplaceFactWindowKeepsManualRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSalesRepository(db)

	manual := sale(2024, 3, "C1", "P1", "корректировка", 42)
	require.NoError(t, db.Create(&manual).Error)

	periods := []model.Period{{Year: 2024, Month: 3}}
	incoming := []model.Sale{
		sale(2024, 3, "C1", "P1", "0", 10),
		sale(2024, 3, "C1", "P2", "0", 3),
	}
	for i := 0; i < 2; i++ {
		res, err := repo.ReplaceFactWindow(ctx, "Факт", periods, incoming)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		assert.Equal(t, 1, res.Preserved)
	}

	rows, err := repo.ListWindow(ctx, "Факт", periods)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "корректировка", rows[0].Comment)
	assert.True(t, decimal.NewFromInt(42).Equal(rows[0].Quantity))
	assert.Equal(t, "P2", rows[1].ProductCode)
}

func TestReplaceFactWindowIgnoresOtherRecordTypes(t *testing.T) {
	db := newTestDB(t)
	budget := sale(2024, 3, "C1", "P1", "0", 7)
	budget.Type = "Bdg"
	require.NoError(t, db.Create(&budget).Error)

	_, err := NewSalesRepository(db).ReplaceFactWindow(context.Background(), "Факт",
		[]model.Period{{Year: 2024, Month: 3}}, nil)
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&model.Sale{}).Where("type = ?", "Bdg").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestWatermarkSetReplacesSingleRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWatermarkRepository(db)

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Set(ctx, "01.03.2024 07:30:00"))
	require.NoError(t, repo.Set(ctx, "02.03.2024 07:30:00"))

	got, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "02.03.2024 07:30:00", got)

	var n int64
	require.NoError(t, db.Model(&model.LastUpdate{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestInsertClientsSkipsExistingCodes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewReferenceRepository(db)

	clients := []model.Client{
		{Code: "C1", Name: "ООО Ромашка", HeadName: "ООО Ромашка", Region: strPtr("Москва")},
		{Code: "C2", Name: "ИП Петров", HeadName: "ИП Петров"},
	}
	review := []model.ReviewItem{{Kind: model.ReviewClientRegion, Code: "C2", Raw: "где-то"}}

	n, err := repo.InsertClients(ctx, clients, review)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.InsertClients(ctx, clients[:1], nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	existing, err := repo.ExistingClientCodes(ctx, []string{"C1", "C2", "C3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"C1": true, "C2": true}, existing)

	items, err := NewReviewRepository(db).ListOpen(ctx, model.ReviewClientRegion, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "C2", items[0].Code)

	ok, err := NewReviewRepository(db).Resolve(ctx, items[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	items, err = NewReviewRepository(db).ListOpen(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProductSubcategoriesOrderedByCode(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&[]model.Product{
		{Code: "P2", Name: "Фильтр масляный", CodeAP: "0", Subcategory: strPtr("Фильтры")},
		{Code: "P1", Name: "Ремень ГРМ", CodeAP: "0", Subcategory: strPtr("Ремни")},
		{Code: "P3", Name: "Без подкатегории", CodeAP: "0"},
	}).Error)

	catalog, err := NewReferenceRepository(db).ProductSubcategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.CatalogEntry{
		{Label: "Ремень ГРМ", Value: "Ремни"},
		{Label: "Фильтр масляный", Value: "Фильтры"},
	}, catalog)
}

func TestAnalyticsQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&[]model.Category{{Subcat: "Ремни", Category: "Привод", Type: "Base"}}).Error)
	require.NoError(t, db.Create(&[]model.Product{
		{Code: "P1", Name: "Ремень A", CodeAP: "AP1", Subcategory: strPtr("Ремни")},
		{Code: "P2", Name: "Ремень B", CodeAP: "AP1", Subcategory: strPtr("Ремни")},
	}).Error)
	require.NoError(t, db.Create(&[]model.Sale{
		sale(2024, 3, "C1", "P1", "0", 8),
		sale(2024, 4, "C1", "P1", "0", 2),
		sale(2024, 4, "C1", "P2", "0", 5),
		sale(2024, 6, "C1", "P2", "0", 100),
	}).Error)

	repo := NewAnalyticsRepository(db)
	totals, err := repo.MonthlyTotals(ctx, 2024, "Факт")
	require.NoError(t, err)
	require.Len(t, totals, 3)
	assert.Equal(t, 4, totals[1].Month)
	assert.True(t, decimal.NewFromInt(7).Equal(totals[1].Quantity))

	filter := ABCFilter{
		RecordType: "Факт", Category: "Привод", Subcategory: "Ремни", CategoryType: "Base",
		From: model.Period{Year: 2024, Month: 3}, To: model.Period{Year: 2024, Month: 5},
	}
	byName, err := repo.ProductQuantities(ctx, filter)
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "Ремень A", byName[0].Name)
	assert.True(t, decimal.NewFromInt(10).Equal(byName[0].Quantity))

	filter.GroupByCodeAP = true
	byCode, err := repo.ProductQuantities(ctx, filter)
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "AP1", byCode[0].Name)
	assert.True(t, decimal.NewFromInt(15).Equal(byCode[0].Quantity))
}

func seedDimensions(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&[]model.Region{
		{Region: "Москва", FederalDistrict: "ЦФО", TerrType: "Город"},
		{Region: "Камчатский край", FederalDistrict: "ДФО", TerrType: "Край"},
	}).Error)
	require.NoError(t, db.Create(&[]model.Category{
		{Subcat: "Ремни", Category: "Привод", Type: "Base"},
		{Subcat: "Фильтры", Category: "Фильтрация", Type: "OEM"},
	}).Error)
	require.NoError(t, db.Create(&[]model.Client{
		{Code: "C1", Name: "ООО Альфа", HeadName: "Холдинг", Region: strPtr("Москва")},
		{Code: "C2", Name: "ООО Бета", Region: strPtr("Камчатский край")},
		{Code: "C3", Name: "ИП Гамма"}, // регион на проверке
	}).Error)
	require.NoError(t, db.Create(&[]model.Product{
		{Code: "P1", Name: "Ремень A", Subcategory: strPtr("Ремни")},
		{Code: "P2", Name: "Фильтр B", Subcategory: strPtr("Фильтры")},
	}).Error)
}

func TestRegionRevenue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedDimensions(t, db)

	plan := sale(2024, 3, "C1", "P1", "0", 1000)
	plan.Type = "План"
	require.NoError(t, db.Create(&[]model.Sale{
		sale(2024, 3, "C1", "P1", "0", 2),
		sale(2024, 4, "C1", "P2", "0", 3),
		sale(2024, 3, "C2", "P1", "0", 7),
		sale(2024, 3, "C3", "P1", "0", 1),
		sale(2023, 3, "C2", "P1", "0", 50),
		plan,
	}).Error)

	list, err := NewAnalyticsRepository(db).RegionRevenue(ctx, 2024, "Факт")
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "Камчатский край", list[0].Region)
	assert.Equal(t, "Край", list[0].TerrType)
	assert.True(t, decimal.NewFromInt(700).Equal(list[0].Revenue), list[0].Revenue.String())
	assert.Equal(t, "Москва", list[1].Region)
	assert.True(t, decimal.NewFromInt(500).Equal(list[1].Revenue), list[1].Revenue.String())
	assert.Empty(t, list[2].Region)
	assert.True(t, decimal.NewFromInt(100).Equal(list[2].Revenue))
}

func TestGroupedTotals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedDimensions(t, db)

	plan := sale(2024, 3, "C1", "P1", "0", 10)
	plan.Type = "План"
	require.NoError(t, db.Create(&[]model.Sale{
		sale(2024, 3, "C1", "P1", "0", 2),
		sale(2024, 4, "C1", "P1", "0", 3),
		sale(2024, 3, "C2", "P2", "0", 7),
		sale(2024, 5, "C2", "P2", "0", 1),
		sale(2023, 3, "C1", "P1", "0", 4),
		plan,
	}).Error)
	repo := NewAnalyticsRepository(db)

	list, err := repo.GroupedTotals(ctx, TotalsFilter{
		Dimensions: []string{"category", "subcategory"},
		Years:      []int{2024},
		Months:     []int{3, 4},
	})
	require.NoError(t, err)
	require.Len(t, list, 3)
	// 排序：year, type, category, subcategory
	assert.Equal(t, "План", list[0].Type)
	assert.Equal(t, map[string]string{"category": "Привод", "subcategory": "Ремни"}, list[0].Group)
	assert.Equal(t, "Факт", list[1].Type)
	assert.Equal(t, "Привод", list[1].Group["category"])
	assert.True(t, decimal.NewFromInt(5).Equal(list[1].Quantity), list[1].Quantity.String())
	assert.True(t, decimal.NewFromInt(600).Equal(list[1].RevenueInclTax))
	assert.Equal(t, "Фильтрация", list[2].Group["category"])
	assert.True(t, decimal.NewFromInt(7).Equal(list[2].Quantity))

	byManager, err := repo.GroupedTotals(ctx, TotalsFilter{
		Dimensions: []string{"manager", "head_name", "manager"},
		Category:   "Привод",
	})
	require.NoError(t, err)
	require.Len(t, byManager, 3)
	assert.Equal(t, 2023, byManager[0].Year)
	assert.Equal(t, map[string]string{"manager": "Иванов", "head_name": "Холдинг"}, byManager[0].Group)

	byRegion, err := repo.GroupedTotals(ctx, TotalsFilter{Dimensions: []string{"federal_district", "client"}, Years: []int{2024}, Months: []int{5}})
	require.NoError(t, err)
	require.Len(t, byRegion, 1)
	assert.Equal(t, "ДФО", byRegion[0].Group["federal_district"])
	assert.Equal(t, "ООО Бета", byRegion[0].Group["client"])

	_, err = repo.GroupedTotals(ctx, TotalsFilter{Dimensions: []string{"sales.year; DROP TABLE sales"}})
	assert.ErrorIs(t, err, ErrUnknownDimension)
}
