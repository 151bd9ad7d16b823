package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fdsn-service/logger"
	"fdsn-service/pkg/models"
)

// Session 一个项目的显式会话状态。由调用方创建并持有，项目关闭时
// 丢弃，替代隐式的进程级全局状态
type Session struct {
	mu sync.RWMutex

	projectDir string
	stations   []models.Station
	events     []models.Event
	arrivals   map[string]map[string]float64 // "eventID-NET.STA" -> phase -> 走时秒数
	outcome    *models.DownloadOutcome
}

// NewSession 创建会话并初始化项目目录结构
func NewSession(projectDir string) (*Session, error) {
	if projectDir == "" {
		return nil, fmt.Errorf("project directory is required")
	}
	if err := os.MkdirAll(filepath.Join(projectDir, "waveforms"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	logger.Printf("[Session] Project initialized at %s", projectDir)
	return &Session{
		projectDir: projectDir,
		arrivals:   make(map[string]map[string]float64),
	}, nil
}

// ProjectDir 项目根目录
func (s *Session) ProjectDir() string {
	return s.projectDir
}

// WaveformDir 波形输出目录
func (s *Session) WaveformDir() string {
	return filepath.Join(s.projectDir, "waveforms")
}

// SetStations 替换当前台站集合。搜索结果整体替换而不是原地修改
func (s *Session) SetStations(stations []models.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations = stations
}

// Stations 当前台站集合
func (s *Session) Stations() []models.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stations
}

// SetEvents 替换当前事件集合
func (s *Session) SetEvents(events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// Events 当前事件集合
func (s *Session) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

// SetArrival 记录一个事件-台站对的震相走时
func (s *Session) SetArrival(eventID, stationKey, phase string, travelTimeSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventID + "-" + stationKey
	if s.arrivals[key] == nil {
		s.arrivals[key] = make(map[string]float64)
	}
	s.arrivals[key][phase] = travelTimeSec
}

// SetOutcome 记录最近一次下载结果
func (s *Session) SetOutcome(outcome *models.DownloadOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = outcome
}

// Outcome 最近一次下载结果
func (s *Session) Outcome() *models.DownloadOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// Save 将当前状态写入项目目录：stations.csv、events.csv、events.json、
// arrivals.json 和 summary.json
func (s *Session) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.saveStationsCSV(filepath.Join(s.projectDir, "stations.csv")); err != nil {
		return err
	}
	if err := s.saveEventsCSV(filepath.Join(s.projectDir, "events.csv")); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.projectDir, "events.json"), s.events); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.projectDir, "arrivals.json"), s.arrivals); err != nil {
		return err
	}

	summary := map[string]interface{}{
		"saved_at":      time.Now().UTC().Format(time.RFC3339),
		"station_count": len(s.stations),
		"event_count":   len(s.events),
	}
	if s.outcome != nil {
		summary["trace_count"] = len(s.outcome.Traces)
		summary["failure_count"] = len(s.outcome.Failures)
		summary["abandoned_count"] = len(s.outcome.Abandoned)
	}
	if err := writeJSON(filepath.Join(s.projectDir, "summary.json"), summary); err != nil {
		return err
	}

	logger.Printf("[Session] Saved project state: %d stations, %d events", len(s.stations), len(s.events))
	return nil
}

// Load 从项目目录恢复事件和到时状态
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventsPath := filepath.Join(s.projectDir, "events.json")
	if data, err := os.ReadFile(eventsPath); err == nil {
		var events []models.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return fmt.Errorf("failed to parse %s: %w", eventsPath, err)
		}
		s.events = events
		logger.Printf("[Session] Loaded %d events from %s", len(events), eventsPath)
	}

	arrivalsPath := filepath.Join(s.projectDir, "arrivals.json")
	if data, err := os.ReadFile(arrivalsPath); err == nil {
		arrivals := make(map[string]map[string]float64)
		if err := json.Unmarshal(data, &arrivals); err != nil {
			return fmt.Errorf("failed to parse %s: %w", arrivalsPath, err)
		}
		s.arrivals = arrivals
	}

	return nil
}

var stationCSVHeader = []string{
	"network", "station", "latitude", "longitude", "elevation",
	"start_date", "end_date", "site_name", "provider", "channel_types",
	"distance_deg", "azimuth", "back_azimuth",
}

func (s *Session) saveStationsCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(stationCSVHeader); err != nil {
		return err
	}
	for i := range s.stations {
		st := &s.stations[i]
		row := []string{
			st.Network,
			st.Station,
			formatFloat(st.Latitude),
			formatFloat(st.Longitude),
			formatFloat(st.Elevation),
			formatDate(st.StartDate),
			formatDate(st.EndDate),
			st.SiteName,
			st.Provider,
			strings.Join(st.ChannelFamilies(), ","),
			formatOptFloat(st.DistanceDeg),
			formatOptFloat(st.Azimuth),
			formatOptFloat(st.BackAzimuth),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

var eventCSVHeader = []string{
	"event_id", "time", "latitude", "longitude", "depth", "magnitude",
	"magnitude_type", "distance_deg", "catalog_source", "has_moment_tensor",
}

func (s *Session) saveEventsCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(eventCSVHeader); err != nil {
		return err
	}
	for i := range s.events {
		e := &s.events[i]
		row := []string{
			e.ID,
			e.Time.UTC().Format(time.RFC3339),
			formatFloat(e.Latitude),
			formatFloat(e.Longitude),
			formatFloat(e.DepthKm),
			formatFloat(e.Magnitude.Value),
			e.Magnitude.Type,
			formatOptFloat(e.DistanceDeg),
			e.Provider,
			strconv.FormatBool(e.HasMomentTensor()),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
