// Package location 实现两阶段定位管线: 先用快速定位保证通知延迟,
// 再在后台请求高精度定位, 漂移超阈值时由调用方触发纠正。
package location

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

// Provider 平台定位能力
// FastFix 返回缓存或单次粗定位, 要求秒级返回;
// RefinedFix 允许多花几秒换取更高精度。
type Provider interface {
	FastFix(ctx context.Context) (*models.Location, error)
	RefinedFix(ctx context.Context) (*models.Location, error)
}

// Pipeline 两阶段定位管线
type Pipeline struct {
	provider       Provider
	logger         *zap.Logger
	fastTimeout    time.Duration
	refinedTimeout time.Duration
}

// NewPipeline 创建定位管线
func NewPipeline(provider Provider, logger *zap.Logger, fastTimeout, refinedTimeout time.Duration) *Pipeline {
	return &Pipeline{
		provider:       provider,
		logger:         logger,
		fastTimeout:    fastTimeout,
		refinedTimeout: refinedTimeout,
	}
}

// Acquire 获取停车位置
// onFast 在快速定位完成后调用 (失败时传 nil, 降级为"位置未知");
// onRefined 在后台精确定位完成后调用, driftM 为相对快速定位的漂移,
// 快速定位缺失时为 +Inf (调用方应视为需要规则复查)。
// 两个回调都在独立 goroutine 中执行, 调用方负责幂等与废弃判断。
func (p *Pipeline) Acquire(ctx context.Context, onFast func(fix *models.Location), onRefined func(fix *models.Location, driftM float64)) {
	go func() {
		fast := p.fastFix(ctx)
		onFast(fast)

		refined := p.refinedFix(ctx)
		if refined == nil {
			return
		}

		drift := math.Inf(1)
		if fast != nil {
			drift = DistanceMeters(fast.Latitude, fast.Longitude, refined.Latitude, refined.Longitude)
		}
		onRefined(refined, drift)
	}()
}

func (p *Pipeline) fastFix(ctx context.Context) *models.Location {
	fixCtx, cancel := context.WithTimeout(ctx, p.fastTimeout)
	defer cancel()

	fix, err := p.provider.FastFix(fixCtx)
	if err != nil {
		// 降级: 停车照常确认, 位置留待精确定位补全
		p.logger.Warn("Fast fix unavailable", zap.Error(err))
		return nil
	}

	fix.Source = models.LocationSourceFast
	return fix
}

func (p *Pipeline) refinedFix(ctx context.Context) *models.Location {
	fixCtx, cancel := context.WithTimeout(ctx, p.refinedTimeout)
	defer cancel()

	fix, err := p.provider.RefinedFix(fixCtx)
	if err != nil {
		p.logger.Warn("Refined fix unavailable", zap.Error(err))
		return nil
	}

	fix.Source = models.LocationSourceRefined
	return fix
}
