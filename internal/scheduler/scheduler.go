package scheduler

import (
	"context"
	"errors"
	"fmt"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner 被调度的更新任务
type Runner interface {
	Run(ctx context.Context, theme string, opts service.RunOptions) (*service.UpdateSummary, error)
}

// Scheduler 按 cron 表达式定时执行更新。上一轮未结束时跳过本轮；
// 任务错误只记录日志，不影响调度进程
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	theme  string
	cfg    config.SyncConfig
	logger *logrus.Logger

	ctx context.Context
}

func New(runner Runner, theme string, cfg config.SyncConfig, logger *logrus.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		theme:  theme,
		cfg:    cfg,
		logger: logger,
		ctx:    context.Background(),
	}
	if _, err := s.cron.AddFunc(cfg.Cron, s.runJob); err != nil {
		return nil, fmt.Errorf("解析cron表达式%q失败: %w", cfg.Cron, err)
	}
	return s, nil
}

// Start 启动调度；ctx 取消后正在执行的任务会收到取消信号
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.WithField("cron", s.cfg.Cron).Info("定时更新已启动")
	if s.cfg.RunOnStart {
		go s.runJob()
	}
}

// Stop 停止调度，返回的 context 在正在执行的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runJob() {
	summary, err := s.runner.Run(s.ctx, s.theme, service.RunOptions{})
	switch {
	case err == nil:
		if summary != nil && summary.Skipped {
			s.logger.WithField("watermark", summary.Watermark).Info("定时更新：报表未变化")
		}
	case errors.Is(err, apperr.ErrRunInProgress):
		s.logger.Info("定时更新：已有更新在执行，跳过")
	case apperr.IsAbortBeforeWrite(err):
		s.logger.WithError(err).Warn("定时更新：未取得可用报表，下次重试")
	default:
		s.logger.WithError(err).Error("定时更新失败，下次重试")
	}
}

// cronLogger 把 cron 的内部日志转到 logrus
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(toFields(keysAndValues)).Error("cron: " + msg)
}

func toFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
