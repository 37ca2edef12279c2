package detect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/location"
	"github.com/curbsense/curbsense/internal/models"
	"github.com/curbsense/curbsense/internal/state"
)

// confirmParking 确认停车: 创建记录, 先落库再发事件, 然后启动定位管线
// 调用方必须持有 e.mu 且状态机处于 parking_pending。
func (e *Engine) confirmParking(m *state.Machine, deviceID string, trigger models.ConfirmationTrigger, at time.Time) {
	if m.Current() != state.StateParkingPending {
		return
	}

	e.timer(deviceID).Cancel()

	if err := m.Trigger(state.EventConfirmParking); err != nil {
		e.logger.Error("Failed to confirm parking", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	e.persistState(deviceID, state.StateParked)

	ctx := context.Background()

	// 单开记录由构造保证: 创建前强制关闭任何遗留的未关闭记录
	if err := e.sessions.ForceCloseOpen(ctx, deviceID, at); err != nil {
		e.logger.Warn("Failed to force close previous sessions",
			zap.String("device_id", deviceID), zap.Error(err))
	}

	sess := &models.ParkingSession{
		DeviceID:      deviceID,
		StartedAt:     at,
		StartLocation: e.lastKnownLocation(deviceID),
	}

	if !e.createWithRetry(ctx, sess) {
		// 落库彻底失败: 内存记录仍作为事实, 离开时再尝试写入
		e.logger.Error("Parking session not durable, holding in memory",
			zap.String("device_id", deviceID))
	}

	e.openSessions[deviceID] = sess

	e.logger.Info("Parking confirmed",
		zap.Int64("session_id", sess.ID),
		zap.String("device_id", deviceID),
		zap.String("trigger", string(trigger)),
		zap.Bool("location_pending", sess.StartLocation == nil))

	// 立即发出事件 (位置可能待定), 不阻塞在定位上
	e.publisher.PublishParking(models.ParkingConfirmed{
		SessionID: sess.ID,
		DeviceID:  deviceID,
		At:        at,
		Trigger:   trigger,
		Location:  sess.StartLocation,
	})

	sessionID := sess.ID
	e.locator.Acquire(ctx, deviceID,
		func(fix *models.Location) {
			e.onFastFix(deviceID, sessionID, fix)
		},
		func(fix *models.Location, driftM float64) {
			e.onRefinedFix(deviceID, sessionID, fix, driftM)
		})
}

// stationaryFor 确认条件 (b): 位置在小半径内持续了整个静止窗口
// 以窗口内最早的采样为锚点, 窗口起点必须被采样覆盖。
func (e *Engine) stationaryFor(deviceID string, at time.Time) bool {
	windowStart := at.Add(-e.cfg.StationaryWindow)

	var anchor *models.Location
	anchorAt := at

	samples := e.recentMotion[deviceID]
	for _, s := range samples {
		if s.Location == nil || s.At.After(at) || s.At.Before(windowStart) {
			continue
		}
		if anchor == nil || s.At.Before(anchorAt) {
			anchor = s.Location
			anchorAt = s.At
		}
	}
	if anchor == nil {
		return false
	}
	// 锚点离窗口起点太远说明窗口前半段没有观测, 不能断言静止
	if anchorAt.Sub(windowStart) > e.cfg.StationaryWindow/4 {
		return false
	}

	for _, s := range samples {
		if s.Location == nil || s.At.After(at) || s.At.Before(anchorAt) {
			continue
		}
		d := location.DistanceMeters(anchor.Latitude, anchor.Longitude, s.Location.Latitude, s.Location.Longitude)
		if d > e.cfg.StationaryRadiusM {
			return false
		}
	}
	return true
}

// onFastFix 快速定位完成 (阶段一)
func (e *Engine) onFastFix(deviceID string, sessionID int64, fix *models.Location) {
	if fix == nil {
		// 降级: 位置未知, 等精确定位补全
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverPanic("fast_fix")

	sess, ok := e.openSessions[deviceID]
	if !ok || sess.ID != sessionID {
		e.logger.Debug("Discarding fast fix for closed session",
			zap.String("device_id", deviceID), zap.Int64("session_id", sessionID))
		return
	}

	sess.StartLocation = fix
	if err := e.sessions.UpdateStartLocation(context.Background(), sessionID, fix); err != nil {
		e.logger.Error("Failed to store fast fix", zap.Int64("session_id", sessionID), zap.Error(err))
	}

	// 快速定位驱动首次规则检查与用户通知
	e.publisher.PublishLocation(models.LocationResolved{
		SessionID:    sessionID,
		DeviceID:     deviceID,
		Phase:        models.LocationPhaseFast,
		Location:     fix,
		RecheckRules: true,
	})
}

// onRefinedFix 精确定位完成 (阶段二)
// 目标记录已关闭时丢弃结果, 对已关闭记录不产生任何可见影响。
func (e *Engine) onRefinedFix(deviceID string, sessionID int64, fix *models.Location, driftM float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverPanic("refined_fix")

	sess, ok := e.openSessions[deviceID]
	if !ok || sess.ID != sessionID {
		e.logger.Debug("Discarding refined fix for closed session",
			zap.String("device_id", deviceID), zap.Int64("session_id", sessionID))
		return
	}

	sess.StartLocation = fix
	if err := e.sessions.UpdateStartLocation(context.Background(), sessionID, fix); err != nil {
		e.logger.Error("Failed to store refined fix", zap.Int64("session_id", sessionID), zap.Error(err))
	}

	if driftM <= e.cfg.RefineDriftThresholdM {
		// 漂移在阈值内: 静默更新, 不重新打扰用户
		e.logger.Debug("Refined fix within drift threshold",
			zap.Int64("session_id", sessionID),
			zap.Float64("drift_m", driftM))
		return
	}

	e.logger.Info("Refined fix drifted, rules recheck needed",
		zap.Int64("session_id", sessionID),
		zap.Float64("drift_m", driftM))

	e.publisher.PublishLocation(models.LocationResolved{
		SessionID:    sessionID,
		DeviceID:     deviceID,
		Phase:        models.LocationPhaseRefined,
		Location:     fix,
		DriftM:       driftM,
		RecheckRules: true,
	})
}

// createWithRetry 创建停车记录, 失败立即重试
func (e *Engine) createWithRetry(ctx context.Context, sess *models.ParkingSession) bool {
	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if err = e.sessions.Create(ctx, sess); err == nil {
			return true
		}
	}
	e.logger.Error("Failed to create parking session", zap.Error(err))
	return false
}
