package adapter

import (
	"context"
	"fmt"

	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// NewSource 按 mail.source 创建报表来源
func NewSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.TabularSource, error) {
	kind := cfg.Mail.Source
	factory, ok := GetFactory(kind)
	if !ok {
		return nil, fmt.Errorf("未知的报表来源%q（已注册：%v）", kind, ListFactories())
	}
	src, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化报表来源%s失败: %w", kind, err)
	}
	if src == nil {
		return nil, fmt.Errorf("报表来源%s的工厂函数返回nil", kind)
	}
	logger.WithField("source", kind).Info("报表来源初始化成功")
	return src, nil
}
