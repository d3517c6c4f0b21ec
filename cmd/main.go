package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SalesSync/internal/adapter"
	"SalesSync/internal/adapter/dadata"
	"SalesSync/internal/adapter/file"
	"SalesSync/internal/adapter/gmail"
	"SalesSync/internal/api"
	"SalesSync/internal/archive"
	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"
	"SalesSync/internal/lock"
	"SalesSync/internal/repository"
	"SalesSync/internal/scheduler"
	"SalesSync/internal/service"
	"SalesSync/internal/utils/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type runOptions struct {
	theme   string
	file    string
	subject string
	force   bool
}

// app 一次进程内共享的依赖
type app struct {
	cfg         *config.Config
	logger      *logrus.Logger
	db          *gorm.DB
	coordinator *service.UpdateCoordinator
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "salessync",
		Short:         "Sales report ingestion and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（默认 ./config/config.yaml）")

	root.AddCommand(newServeCmd(&configPath), newRunCmd(&configPath), newAuthCmd(&configPath))
	return root
}

// newServeCmd HTTP 接口 + 定时更新
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API and scheduled updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, runOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.New(a.coordinator, a.cfg.Mail.Theme, a.cfg.Sync, a.logger)
			if err != nil {
				a.logger.WithError(err).Error("初始化定时任务失败")
				return err
			}
			sched.Start(ctx)

			router := api.NewRouter(a.cfg.Server.Mode,
				api.NewSyncHandler(a.coordinator, a.cfg.Mail.Theme, a.logger),
				api.NewReportHandler(a.db, a.logger, a.cfg.Report.RecordType),
			)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Infof("服务启动成功，端口：%d", a.cfg.Server.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					a.logger.WithError(err).Error("启动服务失败")
					<-sched.Stop().Done()
					return err
				}
			}

			a.logger.Info("收到退出信号，开始关闭服务")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.WithError(err).Warn("HTTP服务关闭超时")
			}
			select {
			case <-sched.Stop().Done():
			case <-shutdownCtx.Done():
				a.logger.Warn("等待定时任务结束超时")
			}
			a.logger.Info("服务已退出")
			return nil
		},
	}
}

// newRunCmd 执行一次更新后退出，失败时退出码为 1
func newRunCmd(configPath *string) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single update and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			theme := opts.theme
			if theme == "" {
				theme = a.cfg.Mail.Theme
			}
			summary, err := a.coordinator.Run(ctx, theme, service.RunOptions{Force: opts.force})
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"watermark":    summary.Watermark,
				"skipped":      summary.Skipped,
				"new_clients":  summary.NewClients,
				"new_products": summary.NewProducts,
				"fact_rows":    summary.FactRows,
				"flagged":      summary.Flagged,
			}).Info("单次更新结束")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.theme, "theme", "", "邮件主题前缀（默认取配置 mail.theme）")
	cmd.Flags().StringVar(&opts.file, "file", "", "从本地文件读取报表，不访问邮箱")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "与 --file 配合使用的邮件主题（含报表时间）")
	cmd.Flags().BoolVar(&opts.force, "force", false, "水位线未变化时也重新入库")
	cmd.MarkFlagsRequiredTogether("file", "subject")
	return cmd
}

// newAuthCmd 交互式完成 Gmail OAuth 授权并保存 token.json
func newAuthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize mailbox access and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return gmail.Authorize(cmd.Context(), cfg.Mail, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// newApp 加载配置并组装更新流水线
func newApp(ctx context.Context, configPath string, opts runOptions) (*app, error) {
	// 1. 加载配置文件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// 2. 初始化日志
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Info("配置文件加载成功")
	a := &app{cfg: cfg, logger: logger}

	// 3. 数据库（库表不存在则自动创建）
	db, err := repository.OpenDB(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Error("连接数据库失败")
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repository.Migrate(db); err != nil {
		logger.WithError(err).Error("数据库表结构迁移失败")
		a.Close()
		return nil, err
	}
	logger.Info("数据库表结构检查完成（不存在则已创建）")

	// 4. 报表来源
	var source interfaces.TabularSource
	if opts.file != "" {
		source = file.NewSource(opts.file, opts.subject, logger)
	} else if source, err = adapter.NewSource(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("初始化报表来源失败")
		a.Close()
		return nil, err
	}

	// 5. 地址清洗
	var cleaner interfaces.AddressCleaner = dadata.NoopCleaner{}
	if cfg.Dadata.Enabled() {
		cleaner = dadata.NewCleaner(cfg.Dadata, logger)
	} else {
		logger.Warn("未配置地址清洗凭据，新客户的区域将全部进入复核队列")
	}

	// 6. 运行锁：配置了 Redis 时跨进程互斥
	var runLock interfaces.RunLock = lock.NewLocalLock()
	if cfg.Redis.Addr != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Error("连接Redis失败")
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		runLock = lock.NewRedisLock(client, cfg.Redis.LockKey, cfg.Sync.LockTTL, logger)
	}

	// 7. 原始报表归档（可选）
	var reportArchive interfaces.ReportArchive
	if cfg.Archive.Endpoint != "" {
		arc, err := archive.NewMinioArchive(ctx, cfg.Archive, logger)
		if err != nil {
			logger.WithError(err).Error("初始化归档存储失败")
			a.Close()
			return nil, err
		}
		reportArchive = arc
	}

	refs := repository.NewReferenceRepository(db)
	a.coordinator = service.NewUpdateCoordinator(service.UpdateDeps{
		Source:     source,
		Normalizer: service.NewReportNormalizer(cfg.Report, logger),
		Engine:     service.NewReconciliationEngine(refs, cleaner, cfg.Matching, cfg.Report, logger),
		References: refs,
		Sales:      repository.NewSalesRepository(db),
		Watermark:  repository.NewWatermarkRepository(db),
		Runs:       repository.NewRunRepository(db),
		Lock:       runLock,
		Archive:    reportArchive,
	}, cfg.Sync, logger)
	return a, nil
}
