package service

import (
	"strconv"
	"strings"
	"time"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// markerLayouts 日期标记行可能出现的格式（1С 导出为 dd.mm.yyyy，excelize 对日期单元格的默认格式为 mm-dd-yy）
var markerLayouts = []string{
	"02.01.2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01-02-06",
}

// ReportNormalizer 把带内嵌表头、日期分隔行的原始报表转换为逐行事实
type ReportNormalizer struct {
	cfg    config.ReportConfig
	logger *logrus.Logger
}

func NewReportNormalizer(cfg config.ReportConfig, logger *logrus.Logger) *ReportNormalizer {
	return &ReportNormalizer{cfg: cfg, logger: logger}
}

// columnIndex 表头列名 -> 列下标，缺失的可选列为 -1
type columnIndex struct {
	clientCode, clientName, headName, clientType, address      int
	productCode, vendorCode, productName, productType, unitCol int
	manager, quantity, revenueExcl, revenueIncl                int
}

// Normalize 逐行扫描：状态为“当前期间”或“无”。日期行切换期间，数据行带上当前期间输出，
// 第一个日期行之前的数据行丢弃，日期行本身不输出。这里不做聚合。
func (n *ReportNormalizer) Normalize(table model.RawTable) ([]model.FactRow, error) {
	headerAt := -1
	for i, row := range table {
		if len(row) > 0 && strings.TrimSpace(row[0]) == n.cfg.HeaderMarker {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, apperr.Malformed(0, "header marker %q not found", n.cfg.HeaderMarker)
	}

	cols, err := n.mapColumns(table[headerAt], headerAt+1)
	if err != nil {
		return nil, err
	}

	var (
		current     *model.Period
		rows        []model.FactRow
		markers     int
		orphans     int
		skipped     int
		recordType  = n.cfg.RecordType
		mappedIndex = cols.all()
	)
	for i := headerAt + 1; i < len(table); i++ {
		row := table[i]
		lineNo := i + 1

		if isBlankRow(row) {
			continue
		}
		if p, ok := markerPeriod(row, mappedIndex); ok {
			current = &p
			markers++
			continue
		}
		if cell(row, cols.clientCode) == "" || cell(row, cols.productCode) == "" {
			// 合计行、分组标题等
			skipped++
			continue
		}
		if current == nil {
			orphans++
			continue
		}

		fact := model.FactRow{
			Period:      *current,
			RecordType:  recordType,
			ClientCode:  cell(row, cols.clientCode),
			ClientName:  cell(row, cols.clientName),
			HeadName:    cell(row, cols.headName),
			ClientType:  cell(row, cols.clientType),
			Address:     cell(row, cols.address),
			ProductCode: cell(row, cols.productCode),
			VendorCode:  cell(row, cols.vendorCode),
			ProductName: cell(row, cols.productName),
			ProductType: cell(row, cols.productType),
			Unit:        cell(row, cols.unitCol),
			Manager:     cell(row, cols.manager),
			SourceRow:   lineNo,
		}
		if fact.Quantity, err = parseAmount(cell(row, cols.quantity)); err != nil {
			return nil, apperr.Malformed(lineNo, "bad quantity %q", cell(row, cols.quantity))
		}
		if fact.RevenueExclTax, err = parseAmount(cell(row, cols.revenueExcl)); err != nil {
			return nil, apperr.Malformed(lineNo, "bad revenue excl. tax %q", cell(row, cols.revenueExcl))
		}
		if fact.RevenueInclTax, err = parseAmount(cell(row, cols.revenueIncl)); err != nil {
			return nil, apperr.Malformed(lineNo, "bad revenue incl. tax %q", cell(row, cols.revenueIncl))
		}
		rows = append(rows, fact)
	}

	if markers == 0 {
		return nil, apperr.Malformed(0, "no date marker rows below header")
	}

	n.logger.WithFields(logrus.Fields{
		"header_row": headerAt + 1,
		"markers":    markers,
		"rows":       len(rows),
		"orphans":    orphans,
		"skipped":    skipped,
	}).Info("报表规范化完成")
	return rows, nil
}

func (n *ReportNormalizer) mapColumns(header []string, lineNo int) (columnIndex, error) {
	byName := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := byName[name]; !dup && name != "" {
			byName[name] = i
		}
	}

	var missing []string
	required := func(name string) int {
		idx, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return idx
	}
	optional := func(name string) int {
		if idx, ok := byName[name]; ok {
			return idx
		}
		return -1
	}

	c := n.cfg.Columns
	idx := columnIndex{
		clientCode:  required(c.ClientCode),
		clientName:  required(c.ClientName),
		headName:    optional(c.HeadName),
		clientType:  optional(c.ClientType),
		address:     optional(c.Address),
		productCode: required(c.ProductCode),
		vendorCode:  optional(c.VendorCode),
		productName: required(c.ProductName),
		productType: optional(c.ProductType),
		unitCol:     required(c.Unit),
		manager:     required(c.Manager),
		quantity:    required(c.Quantity),
		revenueExcl: required(c.RevenueExclTax),
		revenueIncl: required(c.RevenueInclTax),
	}
	if len(missing) > 0 {
		return idx, apperr.Malformed(lineNo, "missing columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func (c columnIndex) all() []int {
	return []int{
		c.clientCode, c.clientName, c.headName, c.clientType, c.address,
		c.productCode, c.vendorCode, c.productName, c.productType, c.unitCol,
		c.manager, c.quantity, c.revenueExcl, c.revenueIncl,
	}
}

// markerPeriod 日期标记行：第一列是日期，其余已映射列全部为空
func markerPeriod(row []string, mapped []int) (model.Period, bool) {
	if len(row) == 0 {
		return model.Period{}, false
	}
	for _, idx := range mapped {
		if idx > 0 && cell(row, idx) != "" {
			return model.Period{}, false
		}
	}
	t, ok := parseMarkerDate(strings.TrimSpace(row[0]))
	if !ok {
		return model.Period{}, false
	}
	return model.Period{Year: t.Year(), Month: int(t.Month())}, true
}

func parseMarkerDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range markerLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// 未格式化的 Excel 日期序列号
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 && serial < 2958466 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var amountCleaner = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", ",", ".")

// parseAmount 解析报表中的数值：去掉千分位空格，逗号视为小数点，空单元格为0。
// 逗号规则面向 csv 导出；xlsx 单元格以原始值读入，不带千分位
func parseAmount(s string) (decimal.Decimal, error) {
	s = amountCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
