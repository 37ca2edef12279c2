package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMetersZero(t *testing.T) {
	assert.Zero(t, DistanceMeters(37.7749, -122.4194, 37.7749, -122.4194))
}

func TestDistanceMetersKnownPairs(t *testing.T) {
	// 纬度 0.0009 度约等于 100 米
	d := DistanceMeters(37.7749, -122.4194, 37.7758, -122.4194)
	assert.InDelta(t, 100, d, 2)

	// 旧金山市政厅到渡轮大厦, 约 2.9 公里
	d = DistanceMeters(37.7793, -122.4193, 37.7955, -122.3937)
	assert.InDelta(t, 2870, d, 100)
}

func TestDistanceMetersSymmetry(t *testing.T) {
	a := DistanceMeters(37.77, -122.41, 37.78, -122.42)
	b := DistanceMeters(37.78, -122.42, 37.77, -122.41)
	assert.InDelta(t, a, b, 1e-9)
}
