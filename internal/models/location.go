package models

import "time"

// 位置来源
const (
	LocationSourceCached  = "cached"  // 最近一次运动采样携带的位置
	LocationSourceFast    = "fast"    // 快速定位 (第一阶段)
	LocationSourceRefined = "refined" // 精确定位 (第二阶段)
)

// Location 定位结果
type Location struct {
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	AccuracyM  float64   `json:"accuracy_m" db:"accuracy_m"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}
