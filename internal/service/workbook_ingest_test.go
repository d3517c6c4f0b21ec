package service

import (
	"testing"
	"time"

	"SalesSync/internal/model"
	"SalesSync/internal/tabular"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// 带数字格式的 xlsx 单元格按原始数值入库
func TestNormalizeStyledWorkbookAmounts(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	thousands, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	require.NoError(t, err)
	rounded, err := f.NewStyle(&excelize.Style{NumFmt: 3}) // #,##0
	require.NoError(t, err)
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)

	header := make([]any, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellStyle("Sheet1", "A2", "A2", dateStyle))

	row := dataRow("C1", "P1", "Иванов", "")
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	values[11] = 1500   // Количество
	values[12] = 1234.5 // Выручка без НДС
	values[13] = 1481.4 // Выручка с НДС
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &values))
	require.NoError(t, f.SetCellStyle("Sheet1", "L3", "L3", rounded))
	require.NoError(t, f.SetCellStyle("Sheet1", "M3", "N3", thousands))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	table, err := tabular.Decode("report.xlsx", buf.Bytes())
	require.NoError(t, err)

	rows, err := newTestNormalizer().Normalize(table)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.Period{Year: 2024, Month: 3}, rows[0].Period)
	assert.True(t, decimal.NewFromInt(1500).Equal(rows[0].Quantity), rows[0].Quantity.String())
	assert.True(t, decimal.RequireFromString("1234.5").Equal(rows[0].RevenueExclTax), rows[0].RevenueExclTax.String())
	assert.True(t, decimal.RequireFromString("1481.4").Equal(rows[0].RevenueInclTax), rows[0].RevenueInclTax.String())
}
