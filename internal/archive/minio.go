package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"SalesSync/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinioArchive 把原始报表附件存入 MinIO/S3 兼容存储
type MinioArchive struct {
	client *minio.Client
	bucket string
	logger *logrus.Logger
}

// NewMinioArchive 创建客户端，桶不存在时自动创建
func NewMinioArchive(ctx context.Context, cfg config.ArchiveConfig, logger *logrus.Logger) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查归档桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("创建归档桶失败: %w", err)
		}
		logger.WithField("bucket", cfg.Bucket).Info("已创建归档桶")
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (a *MinioArchive) Store(ctx context.Context, key string, data []byte) error {
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("上传归档失败: %w", err)
	}
	a.logger.WithFields(logrus.Fields{"bucket": a.bucket, "key": key, "size": info.Size}).Info("原始报表已归档")
	return nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
