package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

// Store 恢复服务需要的存储能力
type Store interface {
	ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ParkingSession, error)
	CloseOrphan(ctx context.Context, sessionID int64, endedAt time.Time) error
}

// Service 启动恢复: 崩溃或断电会留下打开的停车记录,
// 超过陈旧阈值的按"离开未被记录"关闭, 未超过的保持打开 (车可能还停着)。
type Service struct {
	store     Store
	staleness time.Duration
	logger    *zap.Logger
}

func NewService(store Store, staleness time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		staleness: staleness,
		logger:    logger,
	}
}

// Run 执行一次孤儿清理, 返回关闭的记录数
func (s *Service) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleness)

	orphans, err := s.store.ListOpenOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list orphan sessions: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	closed := 0
	now := time.Now()
	for _, sess := range orphans {
		if err := s.store.CloseOrphan(ctx, sess.ID, now); err != nil {
			s.logger.Error("Failed to close orphan session",
				zap.Int64("session_id", sess.ID),
				zap.String("device_id", sess.DeviceID),
				zap.Error(err))
			continue
		}
		closed++
		s.logger.Warn("Closed orphan session, departure was not recorded",
			zap.Int64("session_id", sess.ID),
			zap.String("device_id", sess.DeviceID),
			zap.Time("started_at", sess.StartedAt))
	}

	s.logger.Info("Startup recovery finished",
		zap.Int("orphans", len(orphans)),
		zap.Int("closed", closed))
	return closed, nil
}
