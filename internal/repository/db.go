package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateSessions,
		migrationCreateDetectionStates,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateSessions = `
CREATE TABLE IF NOT EXISTS parking_sessions (
    id BIGSERIAL PRIMARY KEY,
    device_id VARCHAR(64) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    duration_min DOUBLE PRECISION,
    end_reason VARCHAR(32),
    start_latitude DOUBLE PRECISION,
    start_longitude DOUBLE PRECISION,
    start_accuracy_m DOUBLE PRECISION,
    start_location_source VARCHAR(16),
    end_latitude DOUBLE PRECISION,
    end_longitude DOUBLE PRECISION,
    address VARCHAR(512),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sessions_device_id ON parking_sessions(device_id);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON parking_sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON parking_sessions(device_id) WHERE ended_at IS NULL;
`

const migrationCreateDetectionStates = `
CREATE TABLE IF NOT EXISTS detection_states (
    device_id VARCHAR(64) PRIMARY KEY,
    state VARCHAR(32) NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`
