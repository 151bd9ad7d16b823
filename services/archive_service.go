package services

import (
	"database/sql"
	"strings"
	"time"

	"fdsn-service/pkg/common"
	"fdsn-service/pkg/models"
)

// ArchiveService 把查询结果和下载记录归档到数据库
type ArchiveService struct {
	db     *sql.DB
	logger common.Logger
}

// NewArchiveService 创建归档服务
func NewArchiveService(db *sql.DB, logger common.Logger) *ArchiveService {
	return &ArchiveService{db: db, logger: logger}
}

// SaveEvents 归档事件目录，已存在的按 event_id 更新
func (s *ArchiveService) SaveEvents(events []models.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (event_id, event_time, latitude, longitude, depth_km,
			magnitude, magnitude_type, catalog_source, has_moment_tensor, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		ON CONFLICT (event_id) DO UPDATE SET
			magnitude = EXCLUDED.magnitude,
			magnitude_type = EXCLUDED.magnitude_type,
			catalog_source = EXCLUDED.catalog_source,
			has_moment_tensor = EXCLUDED.has_moment_tensor,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to prepare event insert", err)
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]
		if _, err := stmt.Exec(ev.ID, ev.Time, ev.Latitude, ev.Longitude, ev.DepthKm,
			ev.Magnitude.Value, ev.Magnitude.Type, ev.Provider, ev.HasMomentTensor()); err != nil {
			return common.NewAppError("ARCHIVE_FAILED", "Failed to insert event "+ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to commit events", err)
	}

	s.logger.Info("Archived %d events", len(events))
	return nil
}

// SaveStations 归档台站清单，已存在的按 (network, station) 更新
func (s *ArchiveService) SaveStations(stations []models.Station) error {
	tx, err := s.db.Begin()
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stations (network, station, latitude, longitude, elevation,
			site_name, provider, channel_types, start_date, end_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
		ON CONFLICT (network, station) DO UPDATE SET
			channel_types = EXCLUDED.channel_types,
			provider = EXCLUDED.provider,
			end_date = EXCLUDED.end_date,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to prepare station insert", err)
	}
	defer stmt.Close()

	for i := range stations {
		st := &stations[i]
		var start, end interface{}
		if !st.StartDate.IsZero() {
			start = st.StartDate
		}
		if !st.EndDate.IsZero() {
			end = st.EndDate
		}
		if _, err := stmt.Exec(st.Network, st.Station, st.Latitude, st.Longitude,
			st.Elevation, st.SiteName, st.Provider, strings.Join(st.Channels, ","),
			start, end); err != nil {
			return common.NewAppError("ARCHIVE_FAILED", "Failed to insert station "+st.Network+"."+st.Station, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to commit stations", err)
	}

	s.logger.Info("Archived %d stations", len(stations))
	return nil
}

// RecordRun 记录一次下载执行的汇总及逐条失败，返回记录 ID
func (s *ArchiveService) RecordRun(outcome *models.DownloadOutcome, started, finished time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, common.NewAppError("ARCHIVE_FAILED", "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRow(`
		INSERT INTO download_runs (requested, completed, failed, cancelled, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		outcome.Requested, outcome.Completed, len(outcome.Failures),
		outcome.Cancelled, started, finished).Scan(&runID)
	if err != nil {
		return 0, common.NewAppError("ARCHIVE_FAILED", "Failed to insert download run", err)
	}

	records := make([]models.DownloadFailure, 0, len(outcome.Failures)+len(outcome.Abandoned))
	records = append(records, outcome.Failures...)
	records = append(records, outcome.Abandoned...)
	for i := range records {
		f := &records[i]
		var traceKey interface{}
		if f.Request != nil {
			traceKey = f.Request.TraceKey()
		}
		if _, err := tx.Exec(`
			INSERT INTO download_failures (run_id, trace_key, event_id, provider, kind, message, attempts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, traceKey, f.EventID, f.Provider, f.Kind, f.Message, f.Attempts); err != nil {
			return 0, common.NewAppError("ARCHIVE_FAILED", "Failed to insert download failure", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, common.NewAppError("ARCHIVE_FAILED", "Failed to commit download run", err)
	}

	s.logger.Info("Recorded download run %d (%d/%d completed, %d failures)",
		runID, outcome.Completed, outcome.Requested, len(outcome.Failures))
	return runID, nil
}

// SaveManifest 保存清理阶段产出的缺口/重叠清单
func (s *ArchiveService) SaveManifest(runID int64, cleaned *models.CleanedTraces) error {
	tx, err := s.db.Begin()
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO trace_gaps (run_id, trace_key, gap_start, gap_end, duration_sec, filled)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to prepare gap insert", err)
	}
	defer stmt.Close()

	entries := make([]models.Gap, 0, len(cleaned.Gaps)+len(cleaned.Overlaps))
	entries = append(entries, cleaned.Gaps...)
	entries = append(entries, cleaned.Overlaps...)
	for _, g := range entries {
		if _, err := stmt.Exec(runID, g.TraceKey, g.Start, g.End, g.DurationSec, g.Filled); err != nil {
			return common.NewAppError("ARCHIVE_FAILED", "Failed to insert gap for "+g.TraceKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return common.NewAppError("ARCHIVE_FAILED", "Failed to commit manifest", err)
	}

	s.logger.Info("Saved manifest for run %d: %d gaps, %d overlaps",
		runID, len(cleaned.Gaps), len(cleaned.Overlaps))
	return nil
}
