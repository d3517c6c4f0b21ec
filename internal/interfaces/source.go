package interfaces

import (
	"context"

	"SalesSync/internal/model"
)

// TabularSource 报表来源：取回主题包含关键字的最新一封邮件中的表格附件
// 没有匹配邮件或附件时返回 apperr.ErrSourceNotFound
type TabularSource interface {
	Fetch(ctx context.Context, subjectKeyword string) (*model.Report, error)
}

// AddressCleaner 地址规范化：从自由文本地址中提取区域名称
// 无法给出可信区域时返回 apperr.ErrRegionAmbiguous
type AddressCleaner interface {
	CleanRegion(ctx context.Context, address string) (string, error)
}

// ReportArchive 原始附件归档
type ReportArchive interface {
	Store(ctx context.Context, key string, data []byte) error
}
