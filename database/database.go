package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Migrate 运行数据库迁移
func Migrate(db *sql.DB) error {
	migrations := []string{
		// 地震事件表
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			event_id VARCHAR(100) UNIQUE NOT NULL,
			event_time TIMESTAMP NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			depth_km DOUBLE PRECISION,
			magnitude DOUBLE PRECISION,
			magnitude_type VARCHAR(20),
			catalog_source VARCHAR(50),
			has_moment_tensor BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_time ON events(event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_magnitude ON events(magnitude)`,

		// 台站表
		`CREATE TABLE IF NOT EXISTS stations (
			id BIGSERIAL PRIMARY KEY,
			network VARCHAR(10) NOT NULL,
			station VARCHAR(10) NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			elevation DOUBLE PRECISION,
			site_name VARCHAR(255),
			provider VARCHAR(50),
			channel_types VARCHAR(255),
			start_date TIMESTAMP,
			end_date TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (network, station)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stations_network ON stations(network)`,

		// 下载执行记录表
		`CREATE TABLE IF NOT EXISTS download_runs (
			id BIGSERIAL PRIMARY KEY,
			requested INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			cancelled BOOLEAN DEFAULT FALSE,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_runs_started_at ON download_runs(started_at)`,

		// 下载失败表
		`CREATE TABLE IF NOT EXISTS download_failures (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT REFERENCES download_runs(id),
			trace_key VARCHAR(50),
			event_id VARCHAR(100),
			provider VARCHAR(50),
			kind VARCHAR(50) NOT NULL,
			message TEXT,
			attempts INTEGER DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_failures_run_id ON download_failures(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_download_failures_kind ON download_failures(kind)`,

		// 缺口/重叠清单表
		`CREATE TABLE IF NOT EXISTS trace_gaps (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT REFERENCES download_runs(id),
			trace_key VARCHAR(50) NOT NULL,
			gap_start TIMESTAMP NOT NULL,
			gap_end TIMESTAMP NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL,
			filled BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trace_gaps_run_id ON trace_gaps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trace_gaps_trace_key ON trace_gaps(trace_key)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
