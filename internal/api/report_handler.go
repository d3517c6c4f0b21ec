package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SalesSync/internal/model"
	"SalesSync/internal/repository"
	"SalesSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReportHandler 提供给看板的查询接口
type ReportHandler struct {
	reportService *service.ReportService
	logger        *logrus.Logger
}

// NewReportHandler 创建 ReportHandler，recordType 为 ABC 分析使用的事实类型
func NewReportHandler(db *gorm.DB, logger *logrus.Logger, recordType string) *ReportHandler {
	svc := service.NewReportService(
		repository.NewAnalyticsRepository(db),
		repository.NewWatermarkRepository(db),
		repository.NewRunRepository(db),
		repository.NewReviewRepository(db),
		recordType,
		logger,
	)
	return &ReportHandler{
		reportService: svc,
		logger:        logger,
	}
}

// LastUpdate 最后一次成功入库的报表时间
// GET /api/last-update
func (h *ReportHandler) LastUpdate(c *gin.Context) {
	result, err := h.reportService.LastUpdate(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("LastUpdate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListRuns 最近的更新记录
// GET /api/runs?limit=20
func (h *ReportHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.reportService.Runs(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("ListRuns failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListReview 待复核项
// GET /api/review?kind=client_region&limit=100
func (h *ReportHandler) ListReview(c *gin.Context) {
	kind := c.Query("kind")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	result, err := h.reportService.OpenReview(c.Request.Context(), kind, limit)
	if err != nil {
		h.logger.WithError(err).Error("ListReview failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResolveReview 标记复核项为已处理
// POST /api/review/:id/resolve
func (h *ReportHandler) ResolveReview(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ok, err := h.reportService.ResolveReview(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("ResolveReview failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "review item not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}

// MonthlyTotals 按月汇总的销量与收入
// GET /api/reports/monthly?year=2024&type=Факт
func (h *ReportHandler) MonthlyTotals(c *gin.Context) {
	year, _ := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().Year())))
	recordType := c.Query("type")

	result, err := h.reportService.MonthlyTotals(c.Request.Context(), year, recordType)
	if err != nil {
		h.logger.WithError(err).Error("MonthlyTotals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ABC 商品 ABC 分析，期间默认取当年 1 月至当月
// GET /api/reports/abc?category=&subcategory=&category_type=Base&from=2024-01&to=2024-06
func (h *ReportHandler) ABC(c *gin.Context) {
	now := time.Now()
	from, err := parsePeriod(c.Query("from"), model.Period{Year: now.Year(), Month: 1})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := parsePeriod(c.Query("to"), model.Period{Year: now.Year(), Month: int(now.Month())})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return
	}

	result, err := h.reportService.ABC(c.Request.Context(), service.ABCQuery{
		Category:     c.Query("category"),
		Subcategory:  c.Query("subcategory"),
		CategoryType: c.Query("category_type"),
		From:         from,
		To:           to,
	})
	if err != nil {
		h.logger.WithError(err).Error("ABC failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegionRevenue 区域收入
// GET /api/reports/regions?year=2024
func (h *ReportHandler) RegionRevenue(c *gin.Context) {
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().Year())))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}

	result, err := h.reportService.RegionRevenue(c.Request.Context(), year)
	if err != nil {
		h.logger.WithError(err).Error("RegionRevenue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GroupedTotals 按年份、事实类型和维度汇总
// GET /api/reports/totals?group=manager,head_name&years=2023,2024&months=1,2,3&category=Привод
func (h *ReportHandler) GroupedTotals(c *gin.Context) {
	var dims []string
	for _, d := range strings.Split(c.Query("group"), ",") {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if !repository.IsGroupDimension(d) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown group dimension %q", d)})
			return
		}
		dims = append(dims, d)
	}
	years, err := parseIntList(c.Query("years"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid years: " + err.Error()})
		return
	}
	months, err := parseIntList(c.Query("months"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid months: " + err.Error()})
		return
	}
	for _, m := range months {
		if m < 1 || m > 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid month %d", m)})
			return
		}
	}

	result, err := h.reportService.GroupedTotals(c.Request.Context(), repository.TotalsFilter{
		Dimensions: dims,
		Years:      years,
		Months:     months,
		Category:   c.Query("category"),
	})
	if err != nil {
		h.logger.WithError(err).Error("GroupedTotals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseIntList 解析逗号分隔的整数，空串返回 nil
func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// parsePeriod 解析 YYYY-MM，空串返回默认值
func parsePeriod(s string, def model.Period) (model.Period, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return model.Period{}, fmt.Errorf("invalid period %q, want YYYY-MM", s)
	}
	return model.Period{Year: t.Year(), Month: int(t.Month())}, nil
}
