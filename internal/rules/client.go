// Package rules 封装停车规则服务的查询客户端。
// 规则语义 (时段解析、区域归属) 全部在服务端, 这里只负责传输与重试。
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

const (
	checkPath   = "/v1/check-parking-location"
	maxAttempts = 3
)

// Client 停车规则服务客户端
type Client struct {
	host       string
	httpClient *http.Client
	logger     *zap.Logger

	// 缓存: 避免重复查询相同坐标
	cache   map[string]*models.RuleCheck
	cacheMu sync.RWMutex

	// 重试基础间隔, 测试用小值覆盖
	retryBackoff time.Duration
}

type checkRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewClient 创建规则客户端
func NewClient(host string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:       logger,
		cache:        make(map[string]*models.RuleCheck),
		retryBackoff: time.Second,
	}
}

// IsConfigured 是否配置了规则服务地址
func (c *Client) IsConfigured() bool {
	return c.host != ""
}

// Check 查询坐标适用的停车限制
// 传输失败最多重试 3 次 (指数退避); 全部失败返回错误,
// 调用方将其视为软失败: 停车照常记录, 只是跳过规则检查。
func (c *Client) Check(ctx context.Context, lat, lon float64) (*models.RuleCheck, error) {
	if c.host == "" {
		return nil, fmt.Errorf("rules api host not configured")
	}

	// 缓存 key 精确到小数点后4位, 约 11 米
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lon)

	c.cacheMu.RLock()
	if result, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return result, nil
	}
	c.cacheMu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.check(ctx, lat, lon)
		if err == nil {
			c.cacheMu.Lock()
			c.cache[cacheKey] = result
			// 限制缓存大小 (简单策略: 超过 10000 条清空)
			if len(c.cache) > 10000 {
				c.cache = make(map[string]*models.RuleCheck)
				c.cache[cacheKey] = result
			}
			c.cacheMu.Unlock()
			return result, nil
		}

		lastErr = err
		c.logger.Warn("Rules check attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err))
	}

	return nil, fmt.Errorf("check parking location after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) check(ctx context.Context, lat, lon float64) (*models.RuleCheck, error) {
	body, err := json.Marshal(checkRequest{Latitude: lat, Longitude: lon})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+checkPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rules api returned status %d", resp.StatusCode)
	}

	var result models.RuleCheck
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

// ClearCache 清空缓存
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*models.RuleCheck)
	c.cacheMu.Unlock()
}

// CacheSize 获取缓存大小
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}
