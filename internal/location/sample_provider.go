package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/curbsense/curbsense/internal/models"
)

// ErrNoFix 窗口内没有可用定位
var ErrNoFix = errors.New("no location fix available")

// SampleProvider 基于设备上报的 GPS 采样实现定位能力
// 手机是真正的定位来源, 引擎侧只消费它持续上报的采样:
// FastFix 立即返回最近的缓存位置, RefinedFix 等待更新鲜/更精确的采样。
type SampleProvider struct {
	mu               sync.Mutex
	latest           *models.Location
	refinedAccuracyM float64
	sampleTTL        time.Duration
}

// NewSampleProvider 创建采样定位源
func NewSampleProvider(refinedAccuracyM float64, sampleTTL time.Duration) *SampleProvider {
	return &SampleProvider{
		refinedAccuracyM: refinedAccuracyM,
		sampleTTL:        sampleTTL,
	}
}

// Observe 记录一次设备上报的位置采样
func (p *SampleProvider) Observe(loc *models.Location) {
	if loc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// 只接受更新鲜的采样
	if p.latest == nil || !loc.CapturedAt.Before(p.latest.CapturedAt) {
		cp := *loc
		p.latest = &cp
	}
}

// FastFix 立即返回最近缓存的位置, 没有缓存时在窗口内等待首个采样
func (p *SampleProvider) FastFix(ctx context.Context) (*models.Location, error) {
	if fix := p.snapshot(time.Now().Add(-p.sampleTTL)); fix != nil {
		return fix, nil
	}
	return p.wait(ctx, func(loc *models.Location) bool { return true })
}

// RefinedFix 等待一个调用后采集的高精度采样, 超时前未出现则返回错误
func (p *SampleProvider) RefinedFix(ctx context.Context) (*models.Location, error) {
	started := time.Now()
	return p.wait(ctx, func(loc *models.Location) bool {
		return loc.CapturedAt.After(started) && loc.AccuracyM > 0 && loc.AccuracyM <= p.refinedAccuracyM
	})
}

// snapshot 返回最近采样的副本, 过旧则为 nil
func (p *SampleProvider) snapshot(cutoff time.Time) *models.Location {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.latest == nil || p.latest.CapturedAt.Before(cutoff) {
		return nil
	}
	cp := *p.latest
	return &cp
}

func (p *SampleProvider) wait(ctx context.Context, accept func(*models.Location) bool) (*models.Location, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrNoFix
		case <-ticker.C:
			p.mu.Lock()
			loc := p.latest
			p.mu.Unlock()
			if loc != nil && accept(loc) {
				cp := *loc
				return &cp, nil
			}
		}
	}
}
