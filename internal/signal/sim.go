package signal

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

// SimSource 本地模拟信号源: 周期性地演练"行驶 -> 停车 -> 离开"
// 用于无手机端接入时的开发与联调。
type SimSource struct {
	deviceID string
	handler  Handler
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSimSource(deviceID string, handler Handler, logger *zap.Logger) *SimSource {
	return &SimSource{
		deviceID: deviceID,
		handler:  handler,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *SimSource) Start() error {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Simulated signal source started", zap.String("device_id", s.deviceID))
	return nil
}

func (s *SimSource) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *SimSource) run() {
	defer s.wg.Done()

	// 旧金山市区附近的一个基准点
	lat, lon := 37.7749, -122.4194

	for {
		// 行驶阶段: 链路建立, 持续上报 automotive 采样
		s.handler.HandleConnectivity(models.ConnectivityEvent{
			Kind: models.LinkUp, DeviceID: s.deviceID, At: time.Now(),
		})
		for i := 0; i < 6; i++ {
			lat += 0.0005 * rand.Float64()
			lon += 0.0005 * rand.Float64()
			s.emitMotion(models.MotionAutomotive, 11+3*rand.Float64(), lat, lon, 15)
			if s.sleep(5 * time.Second) {
				return
			}
		}

		// 停车: 链路断开, 随后分类器转为 stationary
		s.handler.HandleConnectivity(models.ConnectivityEvent{
			Kind: models.LinkDown, DeviceID: s.deviceID, At: time.Now(),
		})
		if s.sleep(2 * time.Second) {
			return
		}
		for i := 0; i < 8; i++ {
			s.emitMotion(models.MotionStationary, 0, s.jitter(lat), s.jitter(lon), 8)
			if s.sleep(10 * time.Second) {
				return
			}
		}

		// 离开: 链路恢复
		if s.sleep(20 * time.Second) {
			return
		}
	}
}

func (s *SimSource) emitMotion(c models.MotionClassification, speed, lat, lon, acc float64) {
	s.handler.HandleMotion(models.MotionSample{
		DeviceID:       s.deviceID,
		Classification: c,
		SpeedMS:        speed,
		Location: &models.Location{
			Latitude:   lat,
			Longitude:  lon,
			AccuracyM:  acc,
			CapturedAt: time.Now(),
		},
		At: time.Now(),
	})
}

// jitter 叠加几米级的 GPS 抖动
func (s *SimSource) jitter(v float64) float64 {
	return v + 3e-5*math.Sin(rand.Float64()*2*math.Pi)
}

func (s *SimSource) sleep(d time.Duration) (stopped bool) {
	select {
	case <-s.stopCh:
		return true
	case <-time.After(d):
		return false
	}
}
