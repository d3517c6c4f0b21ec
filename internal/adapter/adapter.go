package adapter

import (
	"context"
	"fmt"
	"sort"

	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// Factory 报表来源工厂函数
type Factory func(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.TabularSource, error)

// ========== 全局工厂函数注册表 ==========
var factoryRegistry = make(map[string]Factory)

// Register 供来源实现的 init 函数调用，注册工厂函数
func Register(kind string, factory Factory) {
	if factory == nil {
		panic(fmt.Sprintf("报表来源%s的工厂函数不能为nil", kind))
	}
	if _, exists := factoryRegistry[kind]; exists {
		logrus.Warnf("报表来源%s已注册，将覆盖原有实现", kind)
	}
	factoryRegistry[kind] = factory
}

// GetFactory 获取指定来源的工厂函数
func GetFactory(kind string) (Factory, bool) {
	factory, ok := factoryRegistry[kind]
	return factory, ok
}

// ListFactories 列出所有已注册的来源（排序后）
func ListFactories() []string {
	kinds := make([]string, 0, len(factoryRegistry))
	for k := range factoryRegistry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
