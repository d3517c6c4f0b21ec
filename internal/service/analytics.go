package service

import (
	"context"
	"fmt"
	"time"

	"SalesSync/internal/model"
	"SalesSync/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// abcSubcategoryByCodeAP 该子类的商品按 code_ap 归并后再做 ABC 分析
const abcSubcategoryByCodeAP = "НЭБ"

var defaultTotalsDimensions = []string{"category", "subcategory"}

var (
	abcLimitA = decimal.NewFromInt(80)
	abcLimitB = decimal.NewFromInt(95)
	hundred   = decimal.NewFromInt(100)
)

// LastUpdate 水位线及其对应的报表月份
type LastUpdate struct {
	Date  string `json:"date"`
	Year  int    `json:"year,omitempty"`
	Month int    `json:"month,omitempty"`
}

// ABCItem ABC 分析中的一行
type ABCItem struct {
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	Share      float64         `json:"share"`      // 占比，%，两位小数
	Cumulative float64         `json:"cumulative"` // 累计占比，%
	Class      string          `json:"class"`      // A / B / C
}

// ABCQuery ABC 分析参数，期间为闭区间
type ABCQuery struct {
	Category     string
	Subcategory  string
	CategoryType string
	From         model.Period
	To           model.Period
}

// ReportService 面向看板的只读查询
type ReportService struct {
	analytics  repository.AnalyticsRepository
	watermark  repository.WatermarkRepository
	runs       repository.RunRepository
	review     repository.ReviewRepository
	recordType string
	logger     *logrus.Logger
}

func NewReportService(
	analytics repository.AnalyticsRepository,
	watermark repository.WatermarkRepository,
	runs repository.RunRepository,
	review repository.ReviewRepository,
	recordType string,
	logger *logrus.Logger,
) *ReportService {
	return &ReportService{
		analytics:  analytics,
		watermark:  watermark,
		runs:       runs,
		review:     review,
		recordType: recordType,
		logger:     logger,
	}
}

// LastUpdate 当前水位线；尚未入库过时 Date 为空
func (s *ReportService) LastUpdate(ctx context.Context) (*LastUpdate, error) {
	date, err := s.watermark.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := &LastUpdate{Date: date}
	for _, layout := range watermarkLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			out.Year, out.Month = t.Year(), int(t.Month())
			break
		}
	}
	return out, nil
}

func (s *ReportService) MonthlyTotals(ctx context.Context, year int, recordType string) ([]repository.MonthlyTotal, error) {
	return s.analytics.MonthlyTotals(ctx, year, recordType)
}

func (s *ReportService) Runs(ctx context.Context, limit int) ([]*model.UpdateRun, error) {
	return s.runs.List(ctx, limit)
}

func (s *ReportService) OpenReview(ctx context.Context, kind string, limit int) ([]*model.ReviewItem, error) {
	return s.review.ListOpen(ctx, kind, limit)
}

func (s *ReportService) ResolveReview(ctx context.Context, id uint64) (bool, error) {
	return s.review.Resolve(ctx, id)
}

// RegionRevenue 指定年份各区域的收入，用于区域地图
func (s *ReportService) RegionRevenue(ctx context.Context, year int) ([]repository.RegionRevenue, error) {
	return s.analytics.RegionRevenue(ctx, year, s.recordType)
}

// GroupedTotals 按年份、事实类型和所选维度汇总，供计划/实际对比和因素分析使用。
// 未指定维度时按大类、子类分组
func (s *ReportService) GroupedTotals(ctx context.Context, filter repository.TotalsFilter) ([]repository.GroupedTotal, error) {
	if len(filter.Dimensions) == 0 {
		filter.Dimensions = defaultTotalsDimensions
	}
	for _, m := range filter.Months {
		if m < 1 || m > 12 {
			return nil, fmt.Errorf("invalid month %d", m)
		}
	}
	list, err := s.analytics.GroupedTotals(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"dimensions": filter.Dimensions, "rows": len(list)}).Debug("分组汇总查询完成")
	return list, nil
}

// ABC 按销量降序计算占比与累计占比：累计 < 80% 为 A，< 95% 为 B，其余为 C。没有销量的商品不参与
func (s *ReportService) ABC(ctx context.Context, q ABCQuery) ([]ABCItem, error) {
	if q.To.Before(q.From) {
		return nil, fmt.Errorf("invalid period range %s..%s", q.From, q.To)
	}
	rows, err := s.analytics.ProductQuantities(ctx, repository.ABCFilter{
		RecordType:    s.recordType,
		Category:      q.Category,
		Subcategory:   q.Subcategory,
		CategoryType:  q.CategoryType,
		From:          q.From,
		To:            q.To,
		GroupByCodeAP: q.Subcategory == abcSubcategoryByCodeAP,
	})
	if err != nil {
		return nil, err
	}
	return classifyABC(rows), nil
}

// classifyABC rows 需已按销量降序排列
func classifyABC(rows []repository.NamedQuantity) []ABCItem {
	total := decimal.Zero
	for _, r := range rows {
		if r.Quantity.IsPositive() {
			total = total.Add(r.Quantity)
		}
	}
	items := make([]ABCItem, 0, len(rows))
	if total.IsZero() {
		return items
	}

	cumulative := decimal.Zero
	for _, r := range rows {
		if !r.Quantity.IsPositive() {
			continue
		}
		share := r.Quantity.Div(total).Mul(hundred).RoundBank(2)
		cumulative = cumulative.Add(share)
		class := "C"
		switch {
		case cumulative.LessThan(abcLimitA):
			class = "A"
		case cumulative.LessThan(abcLimitB):
			class = "B"
		}
		items = append(items, ABCItem{
			Name:       r.Name,
			Quantity:   r.Quantity,
			Share:      share.InexactFloat64(),
			Cumulative: cumulative.InexactFloat64(),
			Class:      class,
		})
	}
	return items
}
