package database

import (
	"time"
)

// EventRow 地震事件记录
type EventRow struct {
	ID              int64     `db:"id"`
	EventID         string    `db:"event_id"`
	EventTime       time.Time `db:"event_time"`
	Latitude        float64   `db:"latitude"`
	Longitude       float64   `db:"longitude"`
	DepthKm         *float64  `db:"depth_km"`
	Magnitude       *float64  `db:"magnitude"`
	MagnitudeType   *string   `db:"magnitude_type"`
	CatalogSource   *string   `db:"catalog_source"`
	HasMomentTensor bool      `db:"has_moment_tensor"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// StationRow 台站记录
type StationRow struct {
	ID           int64      `db:"id"`
	Network      string     `db:"network"`
	Station      string     `db:"station"`
	Latitude     float64    `db:"latitude"`
	Longitude    float64    `db:"longitude"`
	Elevation    *float64   `db:"elevation"`
	SiteName     *string    `db:"site_name"`
	Provider     *string    `db:"provider"`
	ChannelTypes *string    `db:"channel_types"`
	StartDate    *time.Time `db:"start_date"`
	EndDate      *time.Time `db:"end_date"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// DownloadRun 一次下载执行的汇总记录
type DownloadRun struct {
	ID         int64     `db:"id"`
	Requested  int       `db:"requested"`
	Completed  int       `db:"completed"`
	Failed     int       `db:"failed"`
	Cancelled  bool      `db:"cancelled"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// FailureRow 下载失败记录
type FailureRow struct {
	ID        int64     `db:"id"`
	RunID     int64     `db:"run_id"`
	TraceKey  *string   `db:"trace_key"`
	EventID   *string   `db:"event_id"`
	Provider  *string   `db:"provider"`
	Kind      string    `db:"kind"`
	Message   *string   `db:"message"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

// GapRow 缺口/重叠清单记录，负时长表示重叠
type GapRow struct {
	ID          int64     `db:"id"`
	RunID       int64     `db:"run_id"`
	TraceKey    string    `db:"trace_key"`
	GapStart    time.Time `db:"gap_start"`
	GapEnd      time.Time `db:"gap_end"`
	DurationSec float64   `db:"duration_sec"`
	Filled      bool      `db:"filled"`
	CreatedAt   time.Time `db:"created_at"`
}
