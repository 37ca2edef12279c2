package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 状态常量
const (
	StateInitializing   = "initializing"    // 启动后首个真实信号到达前的瞬态
	StateIdle           = "idle"            // 无链路, 不在驾驶
	StateDriving        = "driving"         // 链路/运动确认驾驶中
	StateParkingPending = "parking_pending" // 信号刚丢失, 去抖窗口内的瞬态
	StateParked         = "parked"          // 停车确认
)

// 事件常量
const (
	EventVehicleLink    = "vehicle_link"    // 链路建立 / 分类器判定驾驶
	EventVehicleUnlink  = "vehicle_unlink"  // 链路丢失 / 分类器离开驾驶
	EventConfirmParking = "confirm_parking" // 去抖窗口到期, 确认停车
	EventSettle         = "settle"          // 首个信号表明当前未驾驶
)

// IsStable 是否为可持久化的稳定状态
// parking_pending 和 initializing 只存在于内存, 重启后由实时信号重新推导。
func IsStable(s string) bool {
	switch s {
	case StateIdle, StateDriving, StateParked:
		return true
	}
	return false
}

// Machine 单个车辆链路的检测状态机
type Machine struct {
	mu           sync.RWMutex
	deviceID     string
	fsm          *fsm.FSM
	since        time.Time
	onTransition func(deviceID, from, to string)
}

// NewMachine 创建状态机
// initialState 为空或非稳定状态时从 initializing 启动。
func NewMachine(deviceID, initialState string, onTransition func(deviceID, from, to string)) *Machine {
	if !IsStable(initialState) {
		initialState = StateInitializing
	}

	m := &Machine{
		deviceID:     deviceID,
		since:        time.Now(),
		onTransition: onTransition,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 链路建立: 停车中的链路恢复即离开; 去抖窗口内恢复视为误报
			{Name: EventVehicleLink, Src: []string{StateInitializing, StateIdle, StateParked, StateParkingPending}, Dst: StateDriving},

			// 驾驶中信号丢失: 进入去抖窗口, 不落库
			{Name: EventVehicleUnlink, Src: []string{StateDriving}, Dst: StateParkingPending},

			// 去抖到期无重连: 确认停车
			{Name: EventConfirmParking, Src: []string{StateParkingPending}, Dst: StateParked},

			// 启动后首个信号不是驾驶: 落回 idle
			{Name: EventSettle, Src: []string{StateInitializing}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(m.deviceID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 获取当前状态
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since 当前状态的起始时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// DeviceID 所属车辆链路
func (m *Machine) DeviceID() string {
	return m.deviceID
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// Can 检查事件是否可以触发
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器 (按车辆链路)
type Manager struct {
	mu           sync.RWMutex
	machines     map[string]*Machine
	onTransition func(deviceID, from, to string)
}

// NewManager 创建管理器
func NewManager(onTransition func(deviceID, from, to string)) *Manager {
	return &Manager{
		machines:     make(map[string]*Machine),
		onTransition: onTransition,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(deviceID, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[deviceID]; ok {
		return machine
	}

	machine := NewMachine(deviceID, initialState, m.onTransition)
	m.machines[deviceID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(deviceID string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[deviceID]
	return machine, ok
}

// All 所有链路的当前状态
func (m *Manager) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.machines))
	for id, machine := range m.machines {
		states[id] = machine.Current()
	}
	return states
}
