package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachineStartsInitializing(t *testing.T) {
	m := NewMachine("dev-1", "", nil)
	assert.Equal(t, StateInitializing, m.Current())

	// 非稳定状态不允许作为恢复起点
	m = NewMachine("dev-1", StateParkingPending, nil)
	assert.Equal(t, StateInitializing, m.Current())
}

func TestNewMachineRestoresStableState(t *testing.T) {
	for _, st := range []string{StateIdle, StateDriving, StateParked} {
		m := NewMachine("dev-1", st, nil)
		assert.Equal(t, st, m.Current())
	}
}

func TestDrivingCycle(t *testing.T) {
	m := NewMachine("dev-1", "", nil)

	require.NoError(t, m.Trigger(EventVehicleLink))
	assert.Equal(t, StateDriving, m.Current())

	require.NoError(t, m.Trigger(EventVehicleUnlink))
	assert.Equal(t, StateParkingPending, m.Current())

	require.NoError(t, m.Trigger(EventConfirmParking))
	assert.Equal(t, StateParked, m.Current())

	// 停车中链路恢复即离开
	require.NoError(t, m.Trigger(EventVehicleLink))
	assert.Equal(t, StateDriving, m.Current())
}

func TestPendingRelinkReturnsToDriving(t *testing.T) {
	m := NewMachine("dev-1", StateDriving, nil)

	require.NoError(t, m.Trigger(EventVehicleUnlink))
	require.NoError(t, m.Trigger(EventVehicleLink))
	assert.Equal(t, StateDriving, m.Current())
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine("dev-1", StateIdle, nil)

	// idle 不能直接确认停车
	assert.Error(t, m.Trigger(EventConfirmParking))
	assert.Error(t, m.Trigger(EventVehicleUnlink))
	assert.Equal(t, StateIdle, m.Current())

	// settle 只在 initializing 有效
	assert.Error(t, m.Trigger(EventSettle))
}

func TestSettle(t *testing.T) {
	m := NewMachine("dev-1", "", nil)
	require.NoError(t, m.Trigger(EventSettle))
	assert.Equal(t, StateIdle, m.Current())
}

func TestOnTransitionCallback(t *testing.T) {
	var transitions [][2]string
	m := NewMachine("dev-1", "", func(deviceID, from, to string) {
		assert.Equal(t, "dev-1", deviceID)
		transitions = append(transitions, [2]string{from, to})
	})

	require.NoError(t, m.Trigger(EventVehicleLink))
	require.NoError(t, m.Trigger(EventVehicleUnlink))

	require.Len(t, transitions, 2)
	assert.Equal(t, [2]string{StateInitializing, StateDriving}, transitions[0])
	assert.Equal(t, [2]string{StateDriving, StateParkingPending}, transitions[1])
}

func TestIsStable(t *testing.T) {
	assert.True(t, IsStable(StateIdle))
	assert.True(t, IsStable(StateDriving))
	assert.True(t, IsStable(StateParked))
	assert.False(t, IsStable(StateParkingPending))
	assert.False(t, IsStable(StateInitializing))
	assert.False(t, IsStable(""))
}

func TestManager(t *testing.T) {
	mgr := NewManager(nil)

	m1 := mgr.GetOrCreate("dev-1", StateDriving)
	m2 := mgr.GetOrCreate("dev-1", StateIdle)
	assert.Same(t, m1, m2)

	mgr.GetOrCreate("dev-2", "")

	states := mgr.All()
	assert.Equal(t, map[string]string{
		"dev-1": StateDriving,
		"dev-2": StateInitializing,
	}, states)

	_, ok := mgr.Get("dev-3")
	assert.False(t, ok)
}
