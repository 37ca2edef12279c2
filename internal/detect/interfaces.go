package detect

import (
	"context"
	"errors"
	"time"

	"github.com/curbsense/curbsense/internal/models"
)

// ErrNoOpenSession 没有进行中的停车记录
var ErrNoOpenSession = errors.New("no open parking session")

// SessionStore 停车记录的持久化接口
// 生产实现为 repository.SessionRepository, 测试用内存实现。
type SessionStore interface {
	Create(ctx context.Context, session *models.ParkingSession) error
	Complete(ctx context.Context, session *models.ParkingSession) error
	UpdateStartLocation(ctx context.Context, sessionID int64, loc *models.Location) error
	GetOpen(ctx context.Context, deviceID string) (*models.ParkingSession, error)
	ForceCloseOpen(ctx context.Context, deviceID string, endedAt time.Time) error
}

// StateStore 稳定状态的持久化接口
// 只接受 idle/driving/parked; Load 无记录时返回空串。
type StateStore interface {
	Save(ctx context.Context, deviceID, st string) error
	Load(ctx context.Context, deviceID string) (string, error)
}

// Locator 两阶段定位能力 (生产实现为 location.Manager)
type Locator interface {
	Observe(sample models.MotionSample)
	Acquire(ctx context.Context, deviceID string, onFast func(fix *models.Location), onRefined func(fix *models.Location, driftM float64))
}

// Publisher 领域事件的下游 (通知协作方)
// 引擎保证 write-then-notify: 调用时对应的持久化已经完成。
type Publisher interface {
	PublishParking(ev models.ParkingConfirmed)
	PublishDeparture(ev models.DepartureConfirmed)
	PublishLocation(ev models.LocationResolved)
	PublishState(deviceID, from, to string)
}
