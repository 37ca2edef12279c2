package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curbsense/curbsense/internal/detect"
	"github.com/curbsense/curbsense/internal/models"
)

// SessionRepository 停车记录仓库
type SessionRepository struct {
	db *DB
}

// NewSessionRepository 创建停车记录仓库
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, device_id, started_at, ended_at, duration_min, end_reason,
	start_latitude, start_longitude, start_accuracy_m, start_location_source,
	end_latitude, end_longitude, address`

// Create 创建停车记录
func (r *SessionRepository) Create(ctx context.Context, session *models.ParkingSession) error {
	query := `
		INSERT INTO parking_sessions (
			device_id, started_at,
			start_latitude, start_longitude, start_accuracy_m, start_location_source
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	lat, lon, acc, src := flattenLocation(session.StartLocation)
	err := r.db.Pool.QueryRow(ctx, query,
		session.DeviceID,
		session.StartedAt,
		lat, lon, acc, src,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("insert parking session: %w", err)
	}
	return nil
}

// Complete 关闭停车记录
func (r *SessionRepository) Complete(ctx context.Context, session *models.ParkingSession) error {
	query := `
		UPDATE parking_sessions SET
			ended_at = $1,
			duration_min = $2,
			end_reason = $3,
			end_latitude = $4,
			end_longitude = $5
		WHERE id = $6
	`
	var endLat, endLon *float64
	if session.EndLocation != nil {
		endLat = &session.EndLocation.Latitude
		endLon = &session.EndLocation.Longitude
	}
	_, err := r.db.Pool.Exec(ctx, query,
		session.EndedAt,
		session.DurationMin,
		session.EndReason,
		endLat, endLon,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("complete parking session: %w", err)
	}
	return nil
}

// UpdateStartLocation 定位管线回填停车位置, 只更新仍在进行中的记录
func (r *SessionRepository) UpdateStartLocation(ctx context.Context, sessionID int64, loc *models.Location) error {
	query := `
		UPDATE parking_sessions SET
			start_latitude = $2,
			start_longitude = $3,
			start_accuracy_m = $4,
			start_location_source = $5
		WHERE id = $1 AND ended_at IS NULL
	`
	lat, lon, acc, src := flattenLocation(loc)
	_, err := r.db.Pool.Exec(ctx, query, sessionID, lat, lon, acc, src)
	if err != nil {
		return fmt.Errorf("update start location: %w", err)
	}
	return nil
}

// GetOpen 获取设备当前进行中的停车记录
func (r *SessionRepository) GetOpen(ctx context.Context, deviceID string) (*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM parking_sessions WHERE device_id = $1 AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`

	session, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, detect.ErrNoOpenSession
		}
		return nil, fmt.Errorf("get open session: %w", err)
	}
	return session, nil
}

// ForceCloseOpen 强制关闭设备所有进行中的记录 (保证同一设备最多一条打开)
func (r *SessionRepository) ForceCloseOpen(ctx context.Context, deviceID string, endedAt time.Time) error {
	query := `
		UPDATE parking_sessions SET
			ended_at = $2,
			duration_min = EXTRACT(EPOCH FROM ($2 - started_at)) / 60,
			end_reason = $3
		WHERE device_id = $1 AND ended_at IS NULL
	`
	_, err := r.db.Pool.Exec(ctx, query, deviceID, endedAt, models.EndReasonRecovery)
	if err != nil {
		return fmt.Errorf("force close open sessions: %w", err)
	}
	return nil
}

// GetByID 获取单条停车记录
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM parking_sessions WHERE id = $1`

	session, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return session, nil
}

// List 按时间倒序获取设备的停车历史, since 为零值时不过滤
func (r *SessionRepository) List(ctx context.Context, deviceID string, since time.Time, limit, offset int) ([]*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM parking_sessions WHERE device_id = $1 AND started_at >= $2
		ORDER BY started_at DESC LIMIT $3 OFFSET $4`

	rows, err := r.db.Pool.Query(ctx, query, deviceID, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// Latest 获取设备最近一次停车记录 (进行中优先)
func (r *SessionRepository) Latest(ctx context.Context, deviceID string) (*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM parking_sessions WHERE device_id = $1
		ORDER BY (ended_at IS NULL) DESC, started_at DESC LIMIT 1`

	session, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, detect.ErrNoOpenSession
		}
		return nil, fmt.Errorf("get latest session: %w", err)
	}
	return session, nil
}

// ListOpenOlderThan 列出早于给定时刻开始且仍未关闭的记录 (孤儿候选)
func (r *SessionRepository) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*models.ParkingSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM parking_sessions WHERE ended_at IS NULL AND started_at < $1
		ORDER BY started_at`

	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// CloseOrphan 关闭孤儿记录, 标记离开未被记录到
func (r *SessionRepository) CloseOrphan(ctx context.Context, sessionID int64, endedAt time.Time) error {
	query := `
		UPDATE parking_sessions SET
			ended_at = $2,
			duration_min = 0,
			end_reason = $3
		WHERE id = $1 AND ended_at IS NULL
	`
	_, err := r.db.Pool.Exec(ctx, query, sessionID, endedAt, models.EndReasonRecovery)
	if err != nil {
		return fmt.Errorf("close orphan session: %w", err)
	}
	return nil
}

// Stats 停车统计
type Stats struct {
	TotalSessions   int     `json:"total_sessions"`
	TotalParkedMin  float64 `json:"total_parked_min"`
	AvgDurationMin  float64 `json:"avg_duration_min"`
	UnrecordedCount int     `json:"unrecorded_count"`
}

// GetStats 获取设备停车统计, since 为零值时统计全部历史
func (r *SessionRepository) GetStats(ctx context.Context, deviceID string, since time.Time) (*Stats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(duration_min), 0),
			COALESCE(AVG(duration_min), 0),
			COUNT(*) FILTER (WHERE end_reason = $3)
		FROM parking_sessions
		WHERE device_id = $1 AND started_at >= $2 AND ended_at IS NOT NULL
	`
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, query, deviceID, since, models.EndReasonRecovery).Scan(
		&stats.TotalSessions,
		&stats.TotalParkedMin,
		&stats.AvgDurationMin,
		&stats.UnrecordedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("get session stats: %w", err)
	}
	return stats, nil
}

func (r *SessionRepository) scanAll(rows pgx.Rows) ([]*models.ParkingSession, error) {
	var sessions []*models.ParkingSession
	for rows.Next() {
		session, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) scanOne(row pgx.Row) (*models.ParkingSession, error) {
	session := &models.ParkingSession{}
	var (
		durationMin                  *float64
		endReason                    *string
		startLat, startLon, startAcc *float64
		startSrc                     *string
		endLat, endLon               *float64
		address                      *string
	)

	err := row.Scan(
		&session.ID,
		&session.DeviceID,
		&session.StartedAt,
		&session.EndedAt,
		&durationMin,
		&endReason,
		&startLat, &startLon, &startAcc, &startSrc,
		&endLat, &endLon,
		&address,
	)
	if err != nil {
		return nil, err
	}

	if durationMin != nil {
		session.DurationMin = *durationMin
	}
	if endReason != nil {
		session.EndReason = *endReason
	}
	if address != nil {
		session.Address = *address
	}
	if startLat != nil && startLon != nil {
		loc := &models.Location{Latitude: *startLat, Longitude: *startLon}
		if startAcc != nil {
			loc.AccuracyM = *startAcc
		}
		if startSrc != nil {
			loc.Source = *startSrc
		}
		session.StartLocation = loc
	}
	if endLat != nil && endLon != nil {
		session.EndLocation = &models.Location{Latitude: *endLat, Longitude: *endLon}
	}
	return session, nil
}

// flattenLocation 位置结构展开成可空列
func flattenLocation(loc *models.Location) (lat, lon, acc *float64, src *string) {
	if loc == nil {
		return nil, nil, nil, nil
	}
	return &loc.Latitude, &loc.Longitude, &loc.AccuracyM, &loc.Source
}
