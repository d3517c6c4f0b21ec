package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RawTable 附件解码后的原始表格，不假设任何结构
type RawTable [][]string

// Report 一次从来源取回的报表
type Report struct {
	Subject  string   // 邮件主题，用于生成水位线
	Filename string   // 附件文件名
	Blob     []byte   // 附件原始字节（用于归档）
	Table    RawTable // 解码后的表格
}

// Period 年月
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, p.Month) }

// Before 按时间先后比较
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// FactRow 规范化后的一条销售观测，带有客户与商品的原始属性（供维度发现使用）
type FactRow struct {
	Period
	RecordType string

	ClientCode string
	ClientName string
	HeadName   string
	ClientType string
	Address    string

	ProductCode string
	VendorCode  string
	ProductName string
	ProductType string
	Unit        string

	Manager        string
	Quantity       decimal.Decimal
	RevenueExclTax decimal.Decimal
	RevenueInclTax decimal.Decimal

	// SourceRow 原始表格中的行号（从1开始），便于日志定位
	SourceRow int
}

// FactKey 事实行自然键
type FactKey struct {
	Year        int
	Month       int
	Type        string
	ClientCode  string
	ProductCode string
	Manager     string
}

// Key 返回自然键
func (r *FactRow) Key() FactKey {
	return FactKey{
		Year:        r.Year,
		Month:       r.Month,
		Type:        r.RecordType,
		ClientCode:  r.ClientCode,
		ProductCode: r.ProductCode,
		Manager:     r.Manager,
	}
}

// SaleKey 返回事实表行的自然键
func SaleKey(s *Sale) FactKey {
	return FactKey{
		Year:        s.Year,
		Month:       s.Month,
		Type:        s.Type,
		ClientCode:  s.ClientCode,
		ProductCode: s.ProductCode,
		Manager:     s.Manager,
	}
}

// CatalogEntry 模糊匹配字典中的一项（有序，保证平分时结果稳定）
type CatalogEntry struct {
	Label string
	Value string
}
