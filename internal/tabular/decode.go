// Package tabular 把附件字节解码成无结构的原始表格。
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"SalesSync/internal/apperr"
	"SalesSync/internal/model"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsSpreadsheet 按扩展名判断附件是否为表格。旧版 .xls 也算在内，
// 由 Decode 给出明确的不支持错误，而不是当作找不到附件
func IsSpreadsheet(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xls", ".csv":
		return true
	}
	return false
}

// CanDecode 附件格式是否能被 Decode 解析
func CanDecode(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

// Decode 按扩展名解码附件：xlsx/xlsm 取第一个工作表，csv 自动识别分隔符与编码
func Decode(filename string, blob []byte) (model.RawTable, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return decodeWorkbook(blob)
	case ".csv":
		return decodeCSV(blob)
	case ".xls":
		return nil, apperr.Malformed(0, "legacy .xls workbook %q is not supported, re-export it as .xlsx", filename)
	default:
		return nil, apperr.Malformed(0, "unsupported attachment type %q", filename)
	}
}

func decodeWorkbook(blob []byte) (model.RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, apperr.Malformed(0, "open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, apperr.Malformed(0, "workbook has no sheets")
	}
	// 取单元格原始值：数字格式（千分位、小数位）只影响显示，日期以序列号返回
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("读取工作表%s失败: %w", sheet, err)
	}
	return trimRows(rows), nil
}

func decodeCSV(blob []byte) (model.RawTable, error) {
	blob = bytes.TrimPrefix(blob, utf8BOM)

	var r io.Reader = bytes.NewReader(blob)
	if !utf8.Valid(blob) {
		// 1С 默认导出为 Windows-1251
		r = transform.NewReader(r, charmap.Windows1251.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.Comma = sniffDelimiter(blob)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Malformed(len(rows)+1, "csv: %v", err)
		}
		rows = append(rows, rec)
	}
	return trimRows(rows), nil
}

// sniffDelimiter 以第一行非空内容中出现次数更多的 ; 或 , 作为分隔符
func sniffDelimiter(blob []byte) rune {
	for _, line := range bytes.Split(blob, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
			return ';'
		}
		return ','
	}
	return ','
}

// trimRows 去掉单元格首尾空白和行尾的空单元格
func trimRows(rows [][]string) model.RawTable {
	out := make(model.RawTable, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		last := -1
		for j, c := range row {
			cells[j] = strings.TrimSpace(c)
			if cells[j] != "" {
				last = j
			}
		}
		out[i] = cells[:last+1]
	}
	return out
}
