package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestArmFires(t *testing.T) {
	var fired atomic.Int32
	var tm Timer

	tm.Arm(10*time.Millisecond, func() { fired.Add(1) })

	if !tm.Armed() {
		t.Fatal("timer should be armed after Arm")
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected 1 fire, got %d", got)
	}
	if tm.Armed() {
		t.Error("timer should not be armed after expiry")
	}
}

func TestCancelBeforeExpiry(t *testing.T) {
	var fired atomic.Int32
	var tm Timer

	tm.Arm(20*time.Millisecond, func() { fired.Add(1) })
	tm.Cancel()

	if tm.Armed() {
		t.Error("timer should not be armed after Cancel")
	}

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

func TestRearmCancelsPrevious(t *testing.T) {
	var first, second atomic.Int32
	var tm Timer

	tm.Arm(20*time.Millisecond, func() { first.Add(1) })
	tm.Arm(20*time.Millisecond, func() { second.Add(1) })

	time.Sleep(80 * time.Millisecond)
	if got := first.Load(); got != 0 {
		t.Errorf("replaced callback fired %d times", got)
	}
	if got := second.Load(); got != 1 {
		t.Errorf("expected second callback to fire once, got %d", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	var tm Timer
	tm.Cancel()
	tm.Cancel()

	tm.Arm(10*time.Millisecond, func() {})
	tm.Cancel()
	tm.Cancel()

	if tm.Armed() {
		t.Error("timer should not be armed")
	}
}

// 并发 Arm/Cancel 下回调只属于最后一次武装
func TestConcurrentArmCancel(t *testing.T) {
	var tm Timer
	var fired atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tm.Arm(time.Millisecond, func() { fired.Add(1) })
		}()
		go func() {
			defer wg.Done()
			tm.Cancel()
		}()
	}
	wg.Wait()
	tm.Cancel()

	before := fired.Load()
	time.Sleep(20 * time.Millisecond)
	if after := fired.Load(); after != before {
		t.Errorf("callback fired after final Cancel: before=%d after=%d", before, after)
	}
}
