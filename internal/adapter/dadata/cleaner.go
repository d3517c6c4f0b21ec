package dadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

const cleanAddressPath = "/api/v1/clean/address"

// qcUnparsed 地址无法解析（Dadata 质量码）
const qcUnparsed = 2

// cleanResult 只取需要的字段
type cleanResult struct {
	Source         string `json:"source"`
	Result         string `json:"result"`
	Region         string `json:"region"`
	RegionWithType string `json:"region_with_type"`
	QC             *int   `json:"qc"`
}

// Cleaner 调用 Dadata 标准化接口，从地址中提取区域名称。
// 同一地址在 Cleaner 生命周期内只请求一次
type Cleaner struct {
	client  *http.Client
	baseURL string
	token   string
	secret  string
	logger  *logrus.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	region string
	err    error
}

func NewCleaner(cfg config.DadataConfig, logger *logrus.Logger) *Cleaner {
	return &Cleaner{
		client:  httpclient.NewHTTPClient(cfg.HTTPClientConfig, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		secret:  cfg.Secret,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
	}
}

func (c *Cleaner) CleanRegion(ctx context.Context, address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty address", apperr.ErrRegionAmbiguous)
	}

	c.mu.Lock()
	if e, ok := c.cache[address]; ok {
		c.mu.Unlock()
		return e.region, e.err
	}
	c.mu.Unlock()

	region, err := c.clean(ctx, address)
	// 网络错误不缓存，下一个客户可以重试
	if err == nil || errors.Is(err, apperr.ErrRegionAmbiguous) {
		c.mu.Lock()
		c.cache[address] = cacheEntry{region: region, err: err}
		c.mu.Unlock()
	}
	return region, err
}

func (c *Cleaner) clean(ctx context.Context, address string) (string, error) {
	payload, err := json.Marshal([]string{address})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cleanAddressPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("X-Secret", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求 Dadata 失败: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Dadata 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var results []cleanResult
	if err := json.Unmarshal(body, &results); err != nil {
		return "", fmt.Errorf("解析 Dadata 响应失败: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: empty response for %q", apperr.ErrRegionAmbiguous, address)
	}
	r := results[0]
	if r.QC != nil && *r.QC == qcUnparsed {
		return "", fmt.Errorf("%w: address %q not parsed (qc=%d)", apperr.ErrRegionAmbiguous, address, *r.QC)
	}
	if r.Region == "" {
		return "", fmt.Errorf("%w: no region in %q", apperr.ErrRegionAmbiguous, address)
	}
	c.logger.WithFields(logrus.Fields{"address": address, "region": r.Region}).Debug("地址已标准化")
	return r.Region, nil
}

// NoopCleaner 未配置 Dadata 凭据时使用：所有地址都进入人工复核
type NoopCleaner struct{}

func (NoopCleaner) CleanRegion(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: address cleaning is not configured", apperr.ErrRegionAmbiguous)
}
