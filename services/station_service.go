package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fdsn-service/config"
	"fdsn-service/fdsn"
	"fdsn-service/logger"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/geo"
	"fdsn-service/pkg/models"
)

// StationService 台站元数据联邦查询服务
type StationService struct {
	factory ClientFactory
	cfg     *config.Config
	sink    ProgressSink
}

// NewStationService 创建 StationService 实例
func NewStationService(factory ClientFactory, cfg *config.Config, sink ProgressSink) *StationService {
	if sink == nil {
		sink = NopSink{}
	}
	return &StationService{factory: factory, cfg: cfg, sink: sink}
}

// Search 向所有选定的数据中心并行发起台站查询，归一化、去重并做几何
// 后过滤。单个数据中心失败不影响其他中心；所有中心都失败时才返回错误
func (s *StationService) Search(ctx context.Context, providers []string, filters models.QueryFilters) (*models.StationResult, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers selected", common.ErrInvalidInput)
	}
	if filters.Start.IsZero() || filters.End.IsZero() {
		return nil, fmt.Errorf("%w: time range is required", common.ErrInvalidInput)
	}

	query := s.buildQuery(filters)

	var mu sync.Mutex
	statuses := make([]models.ProviderStatus, 0, len(providers))
	var collected []models.Station

	g, gctx := errgroup.WithContext(ctx)
	for _, providerID := range providers {
		providerID := providerID
		g.Go(func() error {
			status := s.queryOne(gctx, providerID, query, &mu, &collected)
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
			// 单中心失败不终止兄弟查询
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Provider < statuses[j].Provider
	})

	if !anyProviderOK(statuses) {
		return nil, fmt.Errorf("%w: %d providers queried", common.ErrAllProvidersUnavailable, len(providers))
	}

	stations := DeduplicateStations(collected)
	stations = s.postFilter(stations, filters)

	s.sink.Publish(ProgressUpdate{
		Stage:     StageFederation,
		Message:   fmt.Sprintf("station search complete: %d stations from %d providers", len(stations), len(providers)),
		Completed: len(providers),
		Total:     len(providers),
	})
	logger.Printf("[StationService] Federated search complete: %d stations from %d providers", len(stations), len(providers))

	return &models.StationResult{Stations: stations, Statuses: statuses}, nil
}

// queryOne 查询单个数据中心，带超时与重试
func (s *StationService) queryOne(ctx context.Context, providerID string, query fdsn.StationQuery, mu *sync.Mutex, collected *[]models.Station) models.ProviderStatus {
	client, ok := s.factory(providerID)
	if !ok {
		return models.ProviderStatus{
			Provider: providerID,
			Kind:     string(common.KindProviderRejected),
			Message:  "unknown provider",
			Attempts: 0,
		}
	}

	var stations []models.Station
	attempts, err := withRetry(ctx, s.cfg.QueryRetries, s.cfg.QueryBackoff, "station query "+providerID, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()

		var qerr error
		stations, qerr = client.QueryStations(qctx, query)
		return qerr
	})
	if err != nil {
		logger.Errorf("[StationService] Provider %s failed after %d attempts: %v", providerID, attempts, err)
		return models.ProviderStatus{
			Provider: providerID,
			Kind:     string(classifyError(err)),
			Message:  err.Error(),
			Attempts: attempts,
		}
	}

	mu.Lock()
	*collected = append(*collected, stations...)
	mu.Unlock()

	return models.ProviderStatus{Provider: providerID, OK: true, Count: len(stations), Attempts: attempts}
}

// buildQuery 将共享过滤参数翻译为 FDSN 台站查询参数
func (s *StationService) buildQuery(filters models.QueryFilters) fdsn.StationQuery {
	q := fdsn.StationQuery{
		Networks: filters.Networks,
		Stations: filters.Stations,
		Channels: filters.Channels,
		Start:    filters.Start,
		End:      filters.End,
	}

	// 服务端几何约束只是粗筛，本地后过滤才是权威判定
	switch roi := filters.ROI.(type) {
	case geo.Rectangle:
		q.UseBox = true
		q.MinLat, q.MaxLat = roi.MinLat, roi.MaxLat
		q.MinLon, q.MaxLon = roi.MinLon, roi.MaxLon
	case geo.Circle:
		q.UseRadius = true
		q.Lat, q.Lon = roi.CenterLat, roi.CenterLon
		q.MaxRadius = roi.RadiusDeg
	}
	if filters.EventCentered() {
		q.UseRadius = true
		q.Lat, q.Lon = filters.Center.Latitude, filters.Center.Longitude
		q.MinRadius = filters.MinDistanceDeg
		q.MaxRadius = filters.MaxDistanceDeg
	}

	return q
}

// postFilter 统一在本地应用几何与运行时段过滤，避免服务端过滤能力
// 不一致导致越界结果泄漏
func (s *StationService) postFilter(stations []models.Station, filters models.QueryFilters) []models.Station {
	kept := make([]models.Station, 0, len(stations))
	for i := range stations {
		st := stations[i]

		if !filters.IncludeClosed && !st.OperatesDuring(filters.Start, filters.End) {
			continue
		}

		if filters.ROI != nil && !filters.ROI.Contains(st.Latitude, st.Longitude) {
			continue
		}

		if filters.EventCentered() {
			dist, az, baz := geo.DistAzimuth(filters.Center.Latitude, filters.Center.Longitude, st.Latitude, st.Longitude)
			if dist < filters.MinDistanceDeg || (filters.MaxDistanceDeg > 0 && dist > filters.MaxDistanceDeg) {
				continue
			}
			st.DistanceDeg = &dist
			st.Azimuth = &az
			st.BackAzimuth = &baz
		}

		kept = append(kept, st)
	}
	return kept
}

// DeduplicateStations 按 (network, station) 合并重复台站。通道集合取
// 并集，来源取并集，地理坐标保留先见记录的值
func DeduplicateStations(stations []models.Station) []models.Station {
	byKey := make(map[string]*models.Station)
	var keys []string

	for i := range stations {
		st := stations[i]
		key := st.Key()

		existing, ok := byKey[key]
		if !ok {
			merged := st
			merged.Channels = append([]string(nil), st.Channels...)
			merged.Providers = []string{st.Provider}
			byKey[key] = &merged
			keys = append(keys, key)
			continue
		}

		for _, ch := range st.Channels {
			if !containsFold(existing.Channels, ch) {
				existing.Channels = append(existing.Channels, ch)
			}
		}
		if !containsFold(existing.Providers, st.Provider) {
			existing.Providers = append(existing.Providers, st.Provider)
		}
		// 运行时段取并集
		if !st.StartDate.IsZero() && (existing.StartDate.IsZero() || st.StartDate.Before(existing.StartDate)) {
			existing.StartDate = st.StartDate
		}
		if st.EndDate.IsZero() {
			existing.EndDate = time.Time{}
		} else if !existing.EndDate.IsZero() && st.EndDate.After(existing.EndDate) {
			existing.EndDate = st.EndDate
		}
	}

	// 合并结果按去重键排序，与数据中心响应顺序无关
	sort.Strings(keys)
	out := make([]models.Station, 0, len(keys))
	for _, key := range keys {
		sort.Strings(byKey[key].Channels)
		sort.Strings(byKey[key].Providers)
		out = append(out, *byKey[key])
	}
	return out
}

func anyProviderOK(statuses []models.ProviderStatus) bool {
	for _, st := range statuses {
		if st.OK {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
