package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"SalesSync/internal/adapter"
	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"
	"SalesSync/internal/model"
	"SalesSync/internal/tabular"

	"github.com/sirupsen/logrus"
)

// Kind 配置 mail.source 中的名称
const Kind = "file"

func init() {
	adapter.Register(Kind, func(_ context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.TabularSource, error) {
		return NewDirSource(cfg.Mail.Dir, logger), nil
	})
}

// Source 单个本地报表文件，主题由调用方给出（手工补录）
type Source struct {
	path    string
	subject string
	logger  *logrus.Logger
}

func NewSource(path, subject string, logger *logrus.Logger) *Source {
	return &Source{path: path, subject: subject, logger: logger}
}

func (s *Source) Fetch(ctx context.Context, subjectKeyword string) (*model.Report, error) {
	if !strings.Contains(s.subject, subjectKeyword) {
		return nil, fmt.Errorf("%w: subject %q does not contain %q", apperr.ErrSourceNotFound, s.subject, subjectKeyword)
	}
	return readReport(s.path, s.subject, s.logger)
}

// DirSource 在目录中取文件名包含主题关键字、修改时间最新的表格文件，文件名（去扩展名）作为主题
type DirSource struct {
	dir    string
	logger *logrus.Logger
}

func NewDirSource(dir string, logger *logrus.Logger) *DirSource {
	return &DirSource{dir: dir, logger: logger}
}

func (s *DirSource) Fetch(ctx context.Context, subjectKeyword string) (*model.Report, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory %s does not exist", apperr.ErrSourceNotFound, s.dir)
		}
		return nil, fmt.Errorf("读取报表目录失败: %w", err)
	}

	var (
		latest     string
		latestInfo os.FileInfo
	)
	for _, e := range entries {
		if e.IsDir() || !tabular.IsSpreadsheet(e.Name()) || !strings.Contains(e.Name(), subjectKeyword) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) {
			latest, latestInfo = e.Name(), info
		}
	}
	if latestInfo == nil {
		return nil, fmt.Errorf("%w: no file in %s matching %q", apperr.ErrSourceNotFound, s.dir, subjectKeyword)
	}
	subject := strings.TrimSuffix(latest, filepath.Ext(latest))
	return readReport(filepath.Join(s.dir, latest), subject, s.logger)
}

func readReport(path, subject string, logger *logrus.Logger) (*model.Report, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("读取报表文件失败: %w", err)
	}
	name := filepath.Base(path)
	table, err := tabular.Decode(name, blob)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"file": path, "rows": len(table)}).Info("已读取本地报表")
	return &model.Report{Subject: subject, Filename: name, Blob: blob, Table: table}, nil
}
