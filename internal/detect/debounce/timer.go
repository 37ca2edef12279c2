// Package debounce 提供单次可取消的去抖定时器。
// 这是检测引擎里唯一依赖真实时钟的地方, 其余逻辑纯事件驱动。
package debounce

import (
	"sync"
	"time"
)

// Timer 单次去抖定时器
// 保证: Cancel 严格先于到期发生时, onExpire 一定不执行;
// 重复 Arm 隐式取消上一次。通过代数计数消除 cancel/expire 竞争:
// time.AfterFunc 的回调即使已经被调度, 只要代数不匹配就直接放弃。
type Timer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// Arm 启动定时器, d 后执行 onExpire
func (t *Timer) Arm(d time.Duration, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen

	if t.timer != nil {
		t.timer.Stop()
	}

	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			// 已被取消或重新武装
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()

		onExpire()
	})
}

// Cancel 取消未到期的定时器
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Armed 是否有未到期的定时器
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
