// Package apperr 汇总入库流水线的错误类型。
//
// 哨兵错误配合 errors.Is 使用；结构化错误携带上下文，并通过 Unwrap 归属到对应哨兵。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceNotFound 邮箱中没有匹配主题的报表邮件或邮件没有表格附件
	ErrSourceNotFound = errors.New("report source not found")

	// ErrMalformedReport 报表结构无法识别（缺少表头标记、缺列、没有可解析的日期行）
	ErrMalformedReport = errors.New("malformed report")

	// ErrUnknownUnit 商品计量单位不在受控词表中
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrRegionAmbiguous 地址清洗或区域模糊匹配无法给出可信结果（只标记，不中断）
	ErrRegionAmbiguous = errors.New("region resolution ambiguous")

	// ErrStoreWrite 存储拒绝写入
	ErrStoreWrite = errors.New("store write failed")

	// ErrRunInProgress 已有一次更新在执行
	ErrRunInProgress = errors.New("update run already in progress")
)

// MalformedReportError 报表结构错误，Row 为 0 表示与具体行无关
type MalformedReportError struct {
	Reason string
	Row    int
}

func (e *MalformedReportError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("malformed report: %s (row %d)", e.Reason, e.Row)
	}
	return "malformed report: " + e.Reason
}

func (e *MalformedReportError) Unwrap() error { return ErrMalformedReport }

// Malformed 构造 MalformedReportError
func Malformed(row int, format string, args ...any) error {
	return &MalformedReportError{Reason: fmt.Sprintf(format, args...), Row: row}
}

// UnknownUnitError 单个商品的单位无法归一
type UnknownUnitError struct {
	ProductCode string
	Unit        string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q for product %s", e.Unit, e.ProductCode)
}

func (e *UnknownUnitError) Unwrap() error { return ErrUnknownUnit }

// RegionResolutionError 客户区域无法可靠确定
type RegionResolutionError struct {
	ClientCode string
	Address    string
	Cleaned    string
	Candidate  string
	Score      int
	Cause      error
}

func (e *RegionResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "region for client %s not resolved", e.ClientCode)
	if e.Cleaned != "" {
		fmt.Fprintf(&b, " (cleaned %q", e.Cleaned)
		if e.Candidate != "" {
			fmt.Fprintf(&b, ", best %q score %d", e.Candidate, e.Score)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *RegionResolutionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrRegionAmbiguous, e.Cause}
	}
	return []error{ErrRegionAmbiguous}
}

// StoreWriteError 写入失败，保留底层驱动错误
type StoreWriteError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreWriteError) Unwrap() []error { return []error{ErrStoreWrite, e.Err} }

// StoreWrite 包装存储层错误，err 为 nil 时返回 nil
func StoreWrite(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreWriteError{Op: op, Table: table, Err: err}
}

// IsAbortBeforeWrite 报告该错误是否发生在任何写入之前（下次调度可安全重试）
func IsAbortBeforeWrite(err error) bool {
	return errors.Is(err, ErrSourceNotFound) || errors.Is(err, ErrMalformedReport)
}

// IsDataQuality 需要人工处理源数据的错误
func IsDataQuality(err error) bool {
	return errors.Is(err, ErrMalformedReport) || errors.Is(err, ErrUnknownUnit)
}
