package models

import "time"

// ConfirmationTrigger 确认停车的触发条件 (三选一, 先到先得)
type ConfirmationTrigger string

const (
	TriggerLinkTimeout      ConfirmationTrigger = "link_timeout"      // 蓝牙断开超过去抖窗口
	TriggerMotionClassifier ConfirmationTrigger = "motion_classifier" // 分类器明确非驾驶
	TriggerStationaryRadius ConfirmationTrigger = "stationary_radius" // 位置在小半径内持续静止
)

// ParkingConfirmed 停车确认事件
// 状态机在持久化完成后立即发出; Location 可能为空 (定位进行中)。
type ParkingConfirmed struct {
	SessionID int64               `json:"session_id"`
	DeviceID  string              `json:"device_id"`
	At        time.Time           `json:"at"`
	Trigger   ConfirmationTrigger `json:"trigger"`
	Location  *Location           `json:"location,omitempty"`
}

// DepartureConfirmed 离开确认事件
type DepartureConfirmed struct {
	SessionID   int64     `json:"session_id"`
	DeviceID    string    `json:"device_id"`
	At          time.Time `json:"at"`
	DurationMin float64   `json:"duration_min"`
}

// 位置解析阶段
const (
	LocationPhaseFast    = "fast"
	LocationPhaseRefined = "refined"
)

// LocationResolved 停车位置解析完成事件
// fast 阶段驱动首次规则检查与通知; refined 阶段仅在漂移超阈值时
// 触发规则复查和纠正通知, 否则静默落库。
type LocationResolved struct {
	SessionID    int64     `json:"session_id"`
	DeviceID     string    `json:"device_id"`
	Phase        string    `json:"phase"`
	Location     *Location `json:"location"`
	DriftM       float64   `json:"drift_m"`
	RecheckRules bool      `json:"recheck_rules"`
}
