package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

// stubProvider 固定返回值的定位源
type stubProvider struct {
	fast       *models.Location
	fastErr    error
	refined    *models.Location
	refinedErr error
}

func (p *stubProvider) FastFix(_ context.Context) (*models.Location, error) {
	if p.fastErr != nil {
		return nil, p.fastErr
	}
	cp := *p.fast
	return &cp, nil
}

func (p *stubProvider) RefinedFix(_ context.Context) (*models.Location, error) {
	if p.refinedErr != nil {
		return nil, p.refinedErr
	}
	cp := *p.refined
	return &cp, nil
}

type fixRecorder struct {
	mu      sync.Mutex
	fast    []*models.Location
	refined []*models.Location
	drifts  []float64
}

func (r *fixRecorder) onFast(fix *models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fast = append(r.fast, fix)
}

func (r *fixRecorder) onRefined(fix *models.Location, drift float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refined = append(r.refined, fix)
	r.drifts = append(r.drifts, drift)
}

func (r *fixRecorder) wait(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return cond()
	}, time.Second, 5*time.Millisecond)
}

func TestPipelineBothPhases(t *testing.T) {
	provider := &stubProvider{
		fast:    &models.Location{Latitude: 37.7749, Longitude: -122.4194},
		refined: &models.Location{Latitude: 37.7758, Longitude: -122.4194}, // 约 100 米外
	}
	rec := &fixRecorder{}

	p := NewPipeline(provider, zap.NewNop(), time.Second, time.Second)
	p.Acquire(context.Background(), rec.onFast, rec.onRefined)

	rec.wait(t, func() bool { return len(rec.refined) == 1 })

	require.Len(t, rec.fast, 1)
	assert.Equal(t, models.LocationSourceFast, rec.fast[0].Source)
	assert.Equal(t, models.LocationSourceRefined, rec.refined[0].Source)
	assert.InDelta(t, 100, rec.drifts[0], 2)
}

func TestPipelineFastFixFailureDegrades(t *testing.T) {
	provider := &stubProvider{
		fastErr: errors.New("gps cold start"),
		refined: &models.Location{Latitude: 37.7749, Longitude: -122.4194},
	}
	rec := &fixRecorder{}

	p := NewPipeline(provider, zap.NewNop(), 10*time.Millisecond, time.Second)
	p.Acquire(context.Background(), rec.onFast, rec.onRefined)

	rec.wait(t, func() bool { return len(rec.refined) == 1 })

	// 快速阶段降级为 nil, 精确阶段漂移视为无穷大
	require.Len(t, rec.fast, 1)
	assert.Nil(t, rec.fast[0])
	assert.True(t, math.IsInf(rec.drifts[0], 1))
}

func TestPipelineRefinedFailureStopsQuietly(t *testing.T) {
	provider := &stubProvider{
		fast:       &models.Location{Latitude: 37.7749, Longitude: -122.4194},
		refinedErr: errors.New("timeout"),
	}
	rec := &fixRecorder{}

	p := NewPipeline(provider, zap.NewNop(), time.Second, 10*time.Millisecond)
	p.Acquire(context.Background(), rec.onFast, rec.onRefined)

	rec.wait(t, func() bool { return len(rec.fast) == 1 })
	time.Sleep(30 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.refined)
}

func TestSampleProviderFastFixFromCache(t *testing.T) {
	p := NewSampleProvider(20, time.Minute)
	p.Observe(&models.Location{Latitude: 1, Longitude: 2, CapturedAt: time.Now()})

	fix, err := p.FastFix(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fix.Latitude, 1e-9)
}

func TestSampleProviderFastFixTimesOutWithoutSamples(t *testing.T) {
	p := NewSampleProvider(20, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.FastFix(ctx)
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestSampleProviderRefinedFixWaitsForAccurateSample(t *testing.T) {
	p := NewSampleProvider(20, time.Minute)

	// 旧的粗采样不满足精确阶段
	p.Observe(&models.Location{Latitude: 1, Longitude: 2, AccuracyM: 80, CapturedAt: time.Now()})

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Observe(&models.Location{Latitude: 1.001, Longitude: 2, AccuracyM: 10, CapturedAt: time.Now()})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fix, err := p.RefinedFix(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.001, fix.Latitude, 1e-9)
	assert.InDelta(t, 10, fix.AccuracyM, 1e-9)
}

func TestSampleProviderKeepsFreshest(t *testing.T) {
	p := NewSampleProvider(20, time.Minute)
	now := time.Now()

	p.Observe(&models.Location{Latitude: 2, CapturedAt: now})
	p.Observe(&models.Location{Latitude: 1, CapturedAt: now.Add(-time.Second)}) // 乱序旧采样

	fix, err := p.FastFix(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, fix.Latitude, 1e-9)
}
