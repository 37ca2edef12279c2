package models

import "time"

// ConnectivityKind 车机蓝牙链路事件类型
type ConnectivityKind string

const (
	LinkUp   ConnectivityKind = "link_up"
	LinkDown ConnectivityKind = "link_down"
)

// ConnectivityEvent 链路事件 (Android 主信号)
// 瞬态输入, 从不落库, 只有其对状态机的影响是持久的。
type ConnectivityEvent struct {
	Kind     ConnectivityKind `json:"kind"`
	DeviceID string           `json:"device_id"`
	At       time.Time        `json:"at"`
}

// MotionClassification 运动分类器输出
type MotionClassification string

const (
	MotionAutomotive MotionClassification = "automotive"
	MotionStationary MotionClassification = "stationary"
	MotionWalking    MotionClassification = "walking"
	MotionOther      MotionClassification = "other"
	MotionUnknown    MotionClassification = "unknown"
)

// Automotive 是否为驾驶状态
func (c MotionClassification) Automotive() bool {
	return c == MotionAutomotive
}

// ClearlyNonAutomotive 分类器明确给出非驾驶结论
// unknown/other 不算: 分类器滞后或抖动不应触发停车确认。
func (c MotionClassification) ClearlyNonAutomotive() bool {
	return c == MotionStationary || c == MotionWalking
}

// MotionSample 运动/GPS 采样 (iOS 主信号, Android 佐证信号)
type MotionSample struct {
	DeviceID       string               `json:"device_id"`
	Classification MotionClassification `json:"classification"`
	SpeedMS        float64              `json:"speed_ms"`
	Location       *Location            `json:"location,omitempty"`
	At             time.Time            `json:"at"`
}
