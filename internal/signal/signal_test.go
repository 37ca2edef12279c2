package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

func TestDecodeConnectivity(t *testing.T) {
	payload := []byte(`{"kind":"link_down","timestamp":1756500000000}`)

	ev, err := DecodeConnectivity("phone-001", payload)
	require.NoError(t, err)
	assert.Equal(t, models.LinkDown, ev.Kind)
	assert.Equal(t, "phone-001", ev.DeviceID)
	assert.Equal(t, time.UnixMilli(1756500000000), ev.At)
}

func TestDecodeConnectivityDefaultsTimestamp(t *testing.T) {
	ev, err := DecodeConnectivity("phone-001", []byte(`{"kind":"link_up"}`))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ev.At, time.Second)
}

func TestDecodeConnectivityRejectsUnknownKind(t *testing.T) {
	_, err := DecodeConnectivity("phone-001", []byte(`{"kind":"paired"}`))
	assert.Error(t, err)

	_, err = DecodeConnectivity("phone-001", []byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeMotionFull(t *testing.T) {
	payload := []byte(`{
		"classification": "automotive",
		"speed_ms": 13.5,
		"latitude": 37.7749,
		"longitude": -122.4194,
		"accuracy_m": 12,
		"timestamp": 1756500000000
	}`)

	s, err := DecodeMotion("phone-001", payload)
	require.NoError(t, err)
	assert.Equal(t, models.MotionAutomotive, s.Classification)
	assert.InDelta(t, 13.5, s.SpeedMS, 1e-9)
	require.NotNil(t, s.Location)
	assert.InDelta(t, 37.7749, s.Location.Latitude, 1e-9)
	assert.InDelta(t, 12, s.Location.AccuracyM, 1e-9)
	assert.Equal(t, time.UnixMilli(1756500000000), s.Location.CapturedAt)
}

func TestDecodeMotionWithoutLocation(t *testing.T) {
	s, err := DecodeMotion("phone-001", []byte(`{"classification":"stationary"}`))
	require.NoError(t, err)
	assert.Equal(t, models.MotionStationary, s.Classification)
	assert.Nil(t, s.Location)
}

func TestDecodeMotionUnknownClassification(t *testing.T) {
	// 未来的新分类降级为 unknown, 不报错
	s, err := DecodeMotion("phone-001", []byte(`{"classification":"cycling"}`))
	require.NoError(t, err)
	assert.Equal(t, models.MotionUnknown, s.Classification)
}

func TestDeviceFromTopic(t *testing.T) {
	s := NewMQTTSource("tcp://localhost:1883", "test", "curbsense", nil, zap.NewNop())

	id, ok := s.deviceFromTopic("curbsense/phone-001/connectivity")
	require.True(t, ok)
	assert.Equal(t, "phone-001", id)

	id, ok = s.deviceFromTopic("curbsense/phone-001/motion")
	require.True(t, ok)
	assert.Equal(t, "phone-001", id)

	_, ok = s.deviceFromTopic("curbsense/motion")
	assert.False(t, ok)

	_, ok = s.deviceFromTopic("curbsense//motion")
	assert.False(t, ok)
}
