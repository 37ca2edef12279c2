package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/curbsense/curbsense/internal/models"
)

// Handler 接收解码后的传感信号, 由检测引擎实现
type Handler interface {
	HandleConnectivity(ev models.ConnectivityEvent)
	HandleMotion(s models.MotionSample)
}

// Source 信号来源 (MQTT 桥或本地模拟器)
type Source interface {
	Start() error
	Stop()
}

// connectivityPayload 车辆蓝牙链路事件的线格式
type connectivityPayload struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// motionPayload 移动端运动/定位采样的线格式
type motionPayload struct {
	Classification string   `json:"classification"`
	SpeedMS        *float64 `json:"speed_ms,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	AccuracyM      *float64 `json:"accuracy_m,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

// DecodeConnectivity 解码链路事件, 时间戳缺省取当前时间
func DecodeConnectivity(deviceID string, data []byte) (models.ConnectivityEvent, error) {
	var p connectivityPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.ConnectivityEvent{}, fmt.Errorf("decode connectivity payload: %w", err)
	}

	var kind models.ConnectivityKind
	switch p.Kind {
	case string(models.LinkUp):
		kind = models.LinkUp
	case string(models.LinkDown):
		kind = models.LinkDown
	default:
		return models.ConnectivityEvent{}, fmt.Errorf("unknown connectivity kind %q", p.Kind)
	}

	return models.ConnectivityEvent{
		Kind:     kind,
		DeviceID: deviceID,
		At:       payloadTime(p.Timestamp),
	}, nil
}

// DecodeMotion 解码运动采样, 未知分类归入 unknown 而非报错
func DecodeMotion(deviceID string, data []byte) (models.MotionSample, error) {
	var p motionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.MotionSample{}, fmt.Errorf("decode motion payload: %w", err)
	}

	s := models.MotionSample{
		DeviceID:       deviceID,
		Classification: parseClassification(p.Classification),
		At:             payloadTime(p.Timestamp),
	}
	if p.SpeedMS != nil {
		s.SpeedMS = *p.SpeedMS
	}
	if p.Latitude != nil && p.Longitude != nil {
		loc := &models.Location{
			Latitude:   *p.Latitude,
			Longitude:  *p.Longitude,
			CapturedAt: s.At,
		}
		if p.AccuracyM != nil {
			loc.AccuracyM = *p.AccuracyM
		}
		s.Location = loc
	}
	return s, nil
}

func parseClassification(raw string) models.MotionClassification {
	switch raw {
	case string(models.MotionAutomotive):
		return models.MotionAutomotive
	case string(models.MotionStationary):
		return models.MotionStationary
	case string(models.MotionWalking):
		return models.MotionWalking
	case string(models.MotionOther):
		return models.MotionOther
	default:
		return models.MotionUnknown
	}
}

func payloadTime(unixMS int64) time.Time {
	if unixMS <= 0 {
		return time.Now()
	}
	return time.UnixMilli(unixMS)
}
