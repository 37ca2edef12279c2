package models

import "time"

// 停车记录结束原因
const (
	EndReasonDeparture = "departure" // 正常检测到离开
	EndReasonRecovery  = "recovery"  // 启动恢复关闭的孤儿记录 (未记录到离开)
)

// ParkingSession 停车记录
// 仅由检测引擎的 driving→parked 转换创建, parked→driving 转换关闭;
// RecoveryService 只在记录超过陈旧阈值时以 recovery 原因关闭。
type ParkingSession struct {
	ID          int64      `json:"id" db:"id"`
	DeviceID    string     `json:"device_id" db:"device_id"` // 车辆蓝牙链路标识
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationMin float64    `json:"duration_min" db:"duration_min"`
	EndReason   string     `json:"end_reason,omitempty" db:"end_reason"`

	// 起始位置 (可能先缺失, 由位置管线异步补全)
	StartLocation *Location `json:"start_location,omitempty"`

	// 结束位置 (离开时的最近采样, 恢复关闭时为空)
	EndLocation *Location `json:"end_location,omitempty"`

	// 停车位置对应的地址 (规则服务返回, 可为空)
	Address string `json:"address,omitempty" db:"address"`
}

// Open 是否仍在进行中
func (s *ParkingSession) Open() bool {
	return s.EndedAt == nil
}
