package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StateRepository 检测状态仓库, 每设备一行
// 只保存稳定状态 (idle/driving/parked), 过渡态由引擎重启时重新推导。
type StateRepository struct {
	db *DB
}

// NewStateRepository 创建检测状态仓库
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Save 落库稳定状态 (upsert)
func (r *StateRepository) Save(ctx context.Context, deviceID, state string) error {
	query := `
		INSERT INTO detection_states (device_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (device_id) DO UPDATE SET state = $2, updated_at = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, deviceID, state); err != nil {
		return fmt.Errorf("save detection state: %w", err)
	}
	return nil
}

// Load 读取设备的持久化状态, 无记录返回空串
func (r *StateRepository) Load(ctx context.Context, deviceID string) (string, error) {
	query := `SELECT state FROM detection_states WHERE device_id = $1`

	var state string
	err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load detection state: %w", err)
	}
	return state, nil
}

// All 读取所有设备的持久化状态
func (r *StateRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT device_id, state FROM detection_states`)
	if err != nil {
		return nil, fmt.Errorf("list detection states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]string)
	for rows.Next() {
		var deviceID, state string
		if err := rows.Scan(&deviceID, &state); err != nil {
			return nil, fmt.Errorf("scan detection state: %w", err)
		}
		states[deviceID] = state
	}
	return states, rows.Err()
}
