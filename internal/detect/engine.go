// Package detect 实现停车/离开检测引擎: 消费连接与运动两路异步信号,
// 应用去抖与确认规则, 产生 ParkingConfirmed / DepartureConfirmed 领域事件。
package detect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/config"
	"github.com/curbsense/curbsense/internal/detect/debounce"
	"github.com/curbsense/curbsense/internal/models"
	"github.com/curbsense/curbsense/internal/state"
)

// 持久化失败的立即重试次数 (内存状态始终作为事实真相保留)
const persistRetries = 3

// Engine 停车检测引擎
// 所有对状态机和未关闭记录的修改都经过同一把互斥锁串行化:
// 平台回调 (链路/运动) 与去抖到期回调可能并发到达,
// LinkUp 与到期回调之间的竞争是整个系统最关键的安全路径。
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	sessions  SessionStore
	states    StateStore
	locator   Locator
	publisher Publisher

	machines *state.Manager

	mu            sync.Mutex
	timers        map[string]*debounce.Timer
	recentMotion  map[string][]models.MotionSample
	lastDeparture map[string]time.Time
	openSessions  map[string]*models.ParkingSession
}

// NewEngine 创建检测引擎
func NewEngine(
	cfg *config.Config,
	logger *zap.Logger,
	sessions SessionStore,
	states StateStore,
	locator Locator,
	publisher Publisher,
) *Engine {
	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		sessions:      sessions,
		states:        states,
		locator:       locator,
		publisher:     publisher,
		timers:        make(map[string]*debounce.Timer),
		recentMotion:  make(map[string][]models.MotionSample),
		lastDeparture: make(map[string]time.Time),
		openSessions:  make(map[string]*models.ParkingSession),
	}

	e.machines = state.NewManager(e.onTransition)
	return e
}

// Stop 取消所有未到期的去抖定时器
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.timers {
		t.Cancel()
	}
	e.logger.Info("Detection engine stopped")
}

// CurrentState 获取链路的当前状态 (无信号到达过时为空)
func (e *Engine) CurrentState(deviceID string) (string, bool) {
	m, ok := e.machines.Get(deviceID)
	if !ok {
		return "", false
	}
	return m.Current(), true
}

// AllStates 所有已知链路的状态
func (e *Engine) AllStates() map[string]string {
	return e.machines.All()
}

// HandleConnectivity 处理链路事件 (Android 主信号)
func (e *Engine) HandleConnectivity(ev models.ConnectivityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverPanic("connectivity")

	m := e.machine(ev.DeviceID)

	switch ev.Kind {
	case models.LinkUp:
		e.handleDrivingSignal(m, ev.DeviceID, ev.At)
	case models.LinkDown:
		e.handleSignalLoss(m, ev.DeviceID, e.cfg.BluetoothDebounce)
	default:
		e.logger.Warn("Unknown connectivity event kind",
			zap.String("device_id", ev.DeviceID),
			zap.String("kind", string(ev.Kind)))
	}
}

// HandleMotion 处理运动采样 (iOS 主信号, Android 佐证)
func (e *Engine) HandleMotion(s models.MotionSample) {
	e.locator.Observe(s)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverPanic("motion")

	e.rememberMotion(s)
	m := e.machine(s.DeviceID)

	switch {
	case s.Classification.Automotive():
		e.handleDrivingSignal(m, s.DeviceID, s.At)

		// 分类器滞后防护: 名义上仍在驾驶, 但位置已长时间静止
		// 刚进入 driving (离开确认或单次抖动) 时不评估: 窗口内的采样还属于上一段停放
		if m.Current() == state.StateDriving &&
			s.At.Sub(m.Since()) >= e.cfg.StationaryWindow &&
			e.stationaryFor(s.DeviceID, s.At) {
			if err := m.Trigger(state.EventVehicleUnlink); err == nil {
				e.confirmParking(m, s.DeviceID, models.TriggerStationaryRadius, s.At)
			}
		}

	case s.Classification.ClearlyNonAutomotive():
		switch m.Current() {
		case state.StateDriving:
			// 首个非驾驶采样只进入去抖窗口, 单次分类抖动不直接确认
			e.handleSignalLoss(m, s.DeviceID, e.cfg.StationaryWindow)
		case state.StateParkingPending:
			// 确认条件 (a): 分类器明确给出非驾驶结论
			e.confirmParking(m, s.DeviceID, models.TriggerMotionClassifier, s.At)
		case state.StateInitializing:
			e.settle(m, s.DeviceID)
		}

	default:
		// other/unknown: 不足以驱动转换, 但静止半径条件依然适用
		if m.Current() == state.StateInitializing {
			e.settle(m, s.DeviceID)
		}
		if m.Current() == state.StateParkingPending && e.stationaryFor(s.DeviceID, s.At) {
			e.confirmParking(m, s.DeviceID, models.TriggerStationaryRadius, s.At)
		}
	}
}

// handleDrivingSignal 驾驶信号: 链路建立或分类器判定驾驶
func (e *Engine) handleDrivingSignal(m *state.Machine, deviceID string, at time.Time) {
	switch m.Current() {
	case state.StateDriving:
		// 重复信号, 幂等
		return

	case state.StateParkingPending:
		// 瞬时丢失 (红灯/隧道/蓝牙重协商): 取消去抖, 无事件, 无记录
		e.timer(deviceID).Cancel()
		if err := m.Trigger(state.EventVehicleLink); err != nil {
			e.logger.Error("Failed to cancel pending parking", zap.String("device_id", deviceID), zap.Error(err))
			return
		}
		// 稳定状态仍是 driving, 存储中未变, 无需重写
		e.logger.Debug("Transient signal loss suppressed", zap.String("device_id", deviceID))

	case state.StateParked:
		e.confirmDeparture(m, deviceID, at)

	case state.StateIdle, state.StateInitializing:
		if err := m.Trigger(state.EventVehicleLink); err != nil {
			e.logger.Error("Failed to start driving", zap.String("device_id", deviceID), zap.Error(err))
			return
		}
		e.persistState(deviceID, state.StateDriving)
	}
}

// handleSignalLoss 信号丢失: 驾驶中才有意义, 其余状态下幂等忽略
func (e *Engine) handleSignalLoss(m *state.Machine, deviceID string, window time.Duration) {
	if m.Current() != state.StateDriving {
		// 重复 LinkDown / 已在去抖中: 不重置窗口
		return
	}

	if err := m.Trigger(state.EventVehicleUnlink); err != nil {
		e.logger.Error("Failed to enter parking pending", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	e.timer(deviceID).Arm(window, func() {
		e.onDebounceExpiry(deviceID)
	})

	e.logger.Debug("Signal lost, debounce armed",
		zap.String("device_id", deviceID),
		zap.Duration("window", window))
}

// onDebounceExpiry 去抖窗口到期 (确认条件 c)
// 在定时器 goroutine 中执行; 拿到锁后必须复查状态:
// 一个并发的 LinkUp 可能已经把状态机拉回 driving。
func (e *Engine) onDebounceExpiry(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverPanic("debounce")

	m, ok := e.machines.Get(deviceID)
	if !ok || m.Current() != state.StateParkingPending {
		return
	}
	e.confirmParking(m, deviceID, models.TriggerLinkTimeout, time.Now())
}

// settle 启动后的首个信号表明未在驾驶
func (e *Engine) settle(m *state.Machine, deviceID string) {
	if err := m.Trigger(state.EventSettle); err != nil {
		return
	}
	e.persistState(deviceID, state.StateIdle)
}

// machine 获取链路的状态机, 首次访问时从持久化状态恢复
// 重启后没有持久化状态默认 idle (通过 settle 路径),
// 绝不会从 parking_pending/initializing 恢复, 它们只在内存中重新推导。
func (e *Engine) machine(deviceID string) *state.Machine {
	if m, ok := e.machines.Get(deviceID); ok {
		return m
	}

	persisted, err := e.states.Load(context.Background(), deviceID)
	if err != nil {
		e.logger.Error("Failed to load persisted state, starting fresh",
			zap.String("device_id", deviceID), zap.Error(err))
		persisted = ""
	}

	m := e.machines.GetOrCreate(deviceID, persisted)
	if persisted != "" {
		e.logger.Info("Restored machine state",
			zap.String("device_id", deviceID),
			zap.String("state", persisted))
	}
	return m
}

func (e *Engine) timer(deviceID string) *debounce.Timer {
	t, ok := e.timers[deviceID]
	if !ok {
		t = &debounce.Timer{}
		e.timers[deviceID] = t
	}
	return t
}

// rememberMotion 保留静止半径判断所需的近期采样
func (e *Engine) rememberMotion(s models.MotionSample) {
	samples := append(e.recentMotion[s.DeviceID], s)

	cutoff := s.At.Add(-e.cfg.MotionSampleTTL)
	for len(samples) > 0 && samples[0].At.Before(cutoff) {
		samples = samples[1:]
	}
	e.recentMotion[s.DeviceID] = samples
}

// lastKnownLocation 最近携带位置的采样 (作为 best-available 起始位置)
func (e *Engine) lastKnownLocation(deviceID string) *models.Location {
	samples := e.recentMotion[deviceID]
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Location != nil {
			loc := *samples[i].Location
			loc.Source = models.LocationSourceCached
			return &loc
		}
	}
	return nil
}

// onTransition 状态机转换回调
func (e *Engine) onTransition(deviceID, from, to string) {
	e.logger.Info("Detection state changed",
		zap.String("device_id", deviceID),
		zap.String("from", from),
		zap.String("to", to))
	e.publisher.PublishState(deviceID, from, to)
}

// persistState 持久化稳定状态, 失败立即重试
// 丢掉稳定状态的写入会让 RecoveryService 把活跃记录误判为孤儿,
// 所以重试耗尽也只记错误, 内存状态照常作为事实继续运行。
func (e *Engine) persistState(deviceID, st string) {
	if !state.IsStable(st) {
		return
	}

	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if err = e.states.Save(context.Background(), deviceID, st); err == nil {
			return
		}
	}

	e.logger.Error("Failed to persist machine state, keeping in-memory truth",
		zap.String("device_id", deviceID),
		zap.String("state", st),
		zap.Error(err))
}

// recoverPanic 单个事件处理中的异常不能污染串行化的状态机
func (e *Engine) recoverPanic(source string) {
	if r := recover(); r != nil {
		e.logger.Error("Recovered panic in signal handler",
			zap.String("source", source),
			zap.Any("panic", r))
	}
}
