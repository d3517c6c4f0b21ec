package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"
	"SalesSync/internal/model"
	"SalesSync/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// watermarkLayouts 邮件主题中报表时间的格式
var watermarkLayouts = []string{"02.01.2006 15:04:05", "02.01.2006 15:04"}

// RunOptions 单次更新的选项
type RunOptions struct {
	// Force 水位线未变化时也重新入库
	Force bool
}

// UpdateSummary 一次更新的结果
type UpdateSummary struct {
	RunID         string         `json:"run_id"`
	Subject       string         `json:"subject"`
	Watermark     string         `json:"watermark"`
	Skipped       bool           `json:"skipped"`
	NewClients    int            `json:"new_clients"`
	NewProducts   int            `json:"new_products"`
	FactRows      int            `json:"fact_rows"`
	DeletedRows   int            `json:"deleted_rows"`
	PreservedRows int            `json:"preserved_rows"`
	Flagged       int            `json:"flagged"`
	Periods       []model.Period `json:"periods"`
	Duration      time.Duration  `json:"duration"`
}

// UpdateDeps 更新协调器依赖，Archive 可为空
type UpdateDeps struct {
	Source     interfaces.TabularSource
	Normalizer *ReportNormalizer
	Engine     *ReconciliationEngine
	References repository.ReferenceRepository
	Sales      repository.SalesRepository
	Watermark  repository.WatermarkRepository
	Runs       repository.RunRepository
	Lock       interfaces.RunLock
	Archive    interfaces.ReportArchive
}

// UpdateCoordinator 串起取数、规范化、对账与入库。
// 写入顺序固定：新客户 → 新商品 → 事实窗口替换 → 水位线。每步独立事务，
// 失败时中止后续步骤但保留已提交的写入；水位线只在全部成功后最后写入。
type UpdateCoordinator struct {
	deps   UpdateDeps
	cfg    config.SyncConfig
	logger *logrus.Logger
}

func NewUpdateCoordinator(deps UpdateDeps, cfg config.SyncConfig, logger *logrus.Logger) *UpdateCoordinator {
	return &UpdateCoordinator{deps: deps, cfg: cfg, logger: logger}
}

// Run 执行一次更新。已有更新在执行时返回 apperr.ErrRunInProgress
func (c *UpdateCoordinator) Run(ctx context.Context, theme string, opts RunOptions) (*UpdateSummary, error) {
	release, err := c.deps.Lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	summary := &UpdateSummary{RunID: uuid.NewString()}
	log := c.logger.WithFields(logrus.Fields{"run_id": summary.RunID, "theme": theme})

	record := &model.UpdateRun{
		ID:        summary.RunID,
		Theme:     theme,
		Status:    model.RunStatusRunning,
		StartedAt: start,
	}
	if err := c.deps.Runs.Create(ctx, record); err != nil {
		log.WithError(err).Warn("写入执行记录失败")
	}

	err = c.run(ctx, theme, opts, summary, log)
	summary.Duration = time.Since(start)
	c.finishRecord(ctx, record, summary, err, log)

	if err != nil {
		log.WithError(err).WithField("duration", summary.Duration.String()).Error("报表更新失败")
		return summary, err
	}
	log.WithFields(logrus.Fields{
		"watermark":    summary.Watermark,
		"skipped":      summary.Skipped,
		"new_clients":  summary.NewClients,
		"new_products": summary.NewProducts,
		"fact_rows":    summary.FactRows,
		"preserved":    summary.PreservedRows,
		"flagged":      summary.Flagged,
		"duration":     summary.Duration.String(),
	}).Info("报表更新完成")
	return summary, nil
}

func (c *UpdateCoordinator) run(ctx context.Context, theme string, opts RunOptions, summary *UpdateSummary, log *logrus.Entry) error {
	// 1. 取数与水位线：任何写入之前
	report, err := c.deps.Source.Fetch(ctx, theme)
	if err != nil {
		return fmt.Errorf("获取报表失败: %w", err)
	}
	summary.Subject = report.Subject
	watermark, reportTime, err := ParseWatermark(report.Subject, theme)
	if err != nil {
		return err
	}
	summary.Watermark = watermark
	log = log.WithField("watermark", watermark)

	if c.cfg.SkipUnchanged && !opts.Force {
		current, err := c.deps.Watermark.Get(ctx)
		if err != nil {
			return fmt.Errorf("读取水位线失败: %w", err)
		}
		if current == watermark {
			summary.Skipped = true
			log.Info("水位线未变化，跳过本次更新")
			return nil
		}
	}

	if c.deps.Archive != nil {
		key := path.Join("reports", reportTime.Format("2006-01-02_15-04-05"), path.Base(report.Filename))
		if err := c.deps.Archive.Store(ctx, key, report.Blob); err != nil {
			log.WithError(err).WithField("key", key).Warn("归档原始报表失败")
		}
	}

	// 2. 规范化
	rows, err := c.deps.Normalizer.Normalize(report.Table)
	if err != nil {
		return err
	}

	// 3a. 新客户
	clients, err := c.deps.Engine.DiscoverClients(ctx, rows)
	if err != nil {
		return fmt.Errorf("客户发现失败: %w", err)
	}
	if summary.NewClients, err = c.deps.References.InsertClients(ctx, clients.Clients, clients.Review); err != nil {
		return err
	}
	summary.Flagged += len(clients.Review)

	// 3b. 新商品
	products, err := c.deps.Engine.DiscoverProducts(ctx, rows)
	if err != nil {
		return fmt.Errorf("商品发现失败: %w", err)
	}
	if summary.NewProducts, err = c.deps.References.InsertProducts(ctx, products.Products, products.Review); err != nil {
		return err
	}
	summary.Flagged += len(products.Review)

	// 3c. 事实窗口替换
	facts, periods := AggregateFacts(rows)
	summary.Periods = periods
	result, err := c.deps.Sales.ReplaceFactWindow(ctx, c.deps.Normalizer.cfg.RecordType, periods, facts)
	if err != nil {
		return err
	}
	summary.FactRows = result.Inserted
	summary.DeletedRows = result.Deleted
	summary.PreservedRows = result.Preserved
	log.WithFields(logrus.Fields{
		"periods":   len(periods),
		"deleted":   result.Deleted,
		"inserted":  result.Inserted,
		"preserved": result.Preserved,
	}).Info("销售事实已更新")

	// 3d. 水位线最后写入
	if err := c.deps.Watermark.Set(ctx, watermark); err != nil {
		return err
	}
	log.Info("水位线已推进")
	return nil
}

// finishRecord 回写执行记录；失败只记日志
func (c *UpdateCoordinator) finishRecord(ctx context.Context, record *model.UpdateRun, s *UpdateSummary, runErr error, log *logrus.Entry) {
	now := time.Now()
	record.FinishedAt = &now
	record.Subject = s.Subject
	record.Watermark = s.Watermark
	record.NewClients = s.NewClients
	record.NewProducts = s.NewProducts
	record.FactRows = s.FactRows
	record.PreservedRows = s.PreservedRows
	record.Flagged = s.Flagged
	switch {
	case runErr != nil:
		record.Status = model.RunStatusFailed
		record.Error = runErr.Error()
	case s.Skipped:
		record.Status = model.RunStatusSkipped
	default:
		record.Status = model.RunStatusSuccess
	}
	if details, err := json.Marshal(map[string]any{
		"periods":      s.Periods,
		"deleted_rows": s.DeletedRows,
		"duration_ms":  s.Duration.Milliseconds(),
	}); err == nil {
		record.Details = datatypes.JSON(details)
	}

	if err := c.deps.Runs.Finish(context.WithoutCancel(ctx), record); err != nil {
		log.WithError(err).Warn("回写执行记录失败")
	}
}

// ParseWatermark 从邮件主题中取出主题前缀之后的报表时间（dd.mm.yyyy HH:MM[:SS]），
// 返回原始字符串与解析后的时间
func ParseWatermark(subject, theme string) (string, time.Time, error) {
	idx := strings.Index(subject, theme)
	if theme == "" || idx < 0 {
		return "", time.Time{}, apperr.Malformed(0, "subject %q does not contain theme %q", subject, theme)
	}
	raw := strings.TrimSpace(subject[idx+len(theme):])
	for _, layout := range watermarkLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return raw, t, nil
		}
	}
	return "", time.Time{}, apperr.Malformed(0, "subject %q has no report timestamp after theme", subject)
}
