package detect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
	"github.com/curbsense/curbsense/internal/state"
)

// confirmDeparture 确认离开: 关闭停车记录并回到行驶态
// 调用方必须持有 e.mu 且状态机处于 parked。
func (e *Engine) confirmDeparture(m *state.Machine, deviceID string, at time.Time) {
	// 幂等窗口: 链路抖动产生的重复离开信号直接吸收
	if last, ok := e.lastDeparture[deviceID]; ok && at.Sub(last) < e.cfg.DepartureIdempotency {
		e.logger.Debug("Departure within idempotency window, ignoring",
			zap.String("device_id", deviceID))
		return
	}

	if err := m.Trigger(state.EventVehicleLink); err != nil {
		e.logger.Error("Failed to leave parked state", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	ctx := context.Background()
	sess := e.openSession(ctx, deviceID)
	if sess == nil {
		// 已停车却无打开的记录: 记为异常但照常回到行驶态
		e.logger.Warn("Departure without open session", zap.String("device_id", deviceID))
		e.persistState(deviceID, state.StateDriving)
		e.lastDeparture[deviceID] = at
		return
	}

	ended := at
	sess.EndedAt = &ended
	sess.DurationMin = at.Sub(sess.StartedAt).Minutes()
	sess.EndReason = models.EndReasonDeparture
	sess.EndLocation = e.lastKnownLocation(deviceID)

	if !e.completeWithRetry(ctx, sess) {
		e.logger.Error("Departure not durable", zap.Int64("session_id", sess.ID))
	}

	e.persistState(deviceID, state.StateDriving)
	delete(e.openSessions, deviceID)
	e.lastDeparture[deviceID] = at

	e.logger.Info("Departure confirmed",
		zap.Int64("session_id", sess.ID),
		zap.String("device_id", deviceID),
		zap.Float64("duration_min", sess.DurationMin))

	e.publisher.PublishDeparture(models.DepartureConfirmed{
		SessionID:   sess.ID,
		DeviceID:    deviceID,
		At:          at,
		DurationMin: sess.DurationMin,
	})
}

// openSession 取当前打开的停车记录, 内存缓存优先, 落库兜底 (进程重启后恢复)
func (e *Engine) openSession(ctx context.Context, deviceID string) *models.ParkingSession {
	if sess, ok := e.openSessions[deviceID]; ok {
		return sess
	}
	sess, err := e.sessions.GetOpen(ctx, deviceID)
	if err != nil {
		if err != ErrNoOpenSession {
			e.logger.Error("Failed to load open session", zap.String("device_id", deviceID), zap.Error(err))
		}
		return nil
	}
	e.openSessions[deviceID] = sess
	return sess
}

// completeWithRetry 关闭停车记录, 失败立即重试
func (e *Engine) completeWithRetry(ctx context.Context, sess *models.ParkingSession) bool {
	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if err = e.sessions.Complete(ctx, sess); err == nil {
			return true
		}
	}
	e.logger.Error("Failed to complete parking session", zap.Int64("session_id", sess.ID), zap.Error(err))
	return false
}
