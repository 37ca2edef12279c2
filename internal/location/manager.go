package location

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

// Manager 按车辆链路管理定位源和定位管线
type Manager struct {
	logger           *zap.Logger
	fastTimeout      time.Duration
	refinedTimeout   time.Duration
	refinedAccuracyM float64
	sampleTTL        time.Duration

	mu        sync.Mutex
	providers map[string]*SampleProvider
}

// NewManager 创建定位管理器
func NewManager(logger *zap.Logger, fastTimeout, refinedTimeout time.Duration, refinedAccuracyM float64, sampleTTL time.Duration) *Manager {
	return &Manager{
		logger:           logger,
		fastTimeout:      fastTimeout,
		refinedTimeout:   refinedTimeout,
		refinedAccuracyM: refinedAccuracyM,
		sampleTTL:        sampleTTL,
	}
}

// Observe 记录设备上报的运动采样中的位置
func (m *Manager) Observe(sample models.MotionSample) {
	if sample.Location == nil {
		return
	}
	m.provider(sample.DeviceID).Observe(sample.Location)
}

// Acquire 为指定链路启动两阶段定位
func (m *Manager) Acquire(ctx context.Context, deviceID string, onFast func(fix *models.Location), onRefined func(fix *models.Location, driftM float64)) {
	p := NewPipeline(m.provider(deviceID), m.logger.With(zap.String("device_id", deviceID)), m.fastTimeout, m.refinedTimeout)
	p.Acquire(ctx, onFast, onRefined)
}

func (m *Manager) provider(deviceID string) *SampleProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.providers == nil {
		m.providers = make(map[string]*SampleProvider)
	}
	if p, ok := m.providers[deviceID]; ok {
		return p
	}
	p := NewSampleProvider(m.refinedAccuracyM, m.sampleTTL)
	m.providers[deviceID] = p
	return p
}
