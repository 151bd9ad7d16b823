package services

import (
	"context"
	"fmt"
	"math"
	"sort"
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

// EventService 地震事件目录联邦查询服务
type EventService struct {
	factory  ClientFactory
	registry *fdsn.Registry
	cfg      *config.Config
	sink     ProgressSink
}

// NewEventService 创建 EventService 实例
func NewEventService(factory ClientFactory, registry *fdsn.Registry, cfg *config.Config, sink ProgressSink) *EventService {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventService{factory: factory, registry: registry, cfg: cfg, sink: sink}
}

// Search 向所有选定的事件目录并行发起查询，去重后按参考点计算震中距
// 并做距离过滤。单个目录失败不影响其他目录
func (s *EventService) Search(ctx context.Context, providers []string, filters models.QueryFilters) (*models.EventResult, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers selected", common.ErrInvalidInput)
	}
	if filters.Start.IsZero() || filters.End.IsZero() {
		return nil, fmt.Errorf("%w: time range is required", common.ErrInvalidInput)
	}

	query := fdsn.EventQuery{
		Start:        filters.Start,
		End:          filters.End,
		MinMagnitude: filters.MinMagnitude,
		MaxMagnitude: filters.MaxMagnitude,
		MinDepthKm:   filters.MinDepthKm,
		MaxDepthKm:   filters.MaxDepthKm,
	}

	var mu sync.Mutex
	statuses := make([]models.ProviderStatus, 0, len(providers))
	var collected []models.Event

	g, gctx := errgroup.WithContext(ctx)
	for _, providerID := range providers {
		providerID := providerID
		g.Go(func() error {
			status := s.queryOne(gctx, providerID, query, &mu, &collected)
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
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

	events := s.deduplicate(collected)
	events = s.postFilter(events, filters)

	s.sink.Publish(ProgressUpdate{
		Stage:     StageFederation,
		Message:   fmt.Sprintf("event search complete: %d events from %d providers", len(events), len(providers)),
		Completed: len(providers),
		Total:     len(providers),
	})
	logger.Printf("[EventService] Federated search complete: %d events from %d providers", len(events), len(providers))

	return &models.EventResult{Events: events, Statuses: statuses}, nil
}

func (s *EventService) queryOne(ctx context.Context, providerID string, query fdsn.EventQuery, mu *sync.Mutex, collected *[]models.Event) models.ProviderStatus {
	client, ok := s.factory(providerID)
	if !ok {
		return models.ProviderStatus{
			Provider: providerID,
			Kind:     string(common.KindProviderRejected),
			Message:  "unknown provider",
		}
	}

	var events []models.Event
	attempts, err := withRetry(ctx, s.cfg.QueryRetries, s.cfg.QueryBackoff, "event query "+providerID, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()

		var qerr error
		events, qerr = client.QueryEvents(qctx, query)
		return qerr
	})
	if err != nil {
		logger.Errorf("[EventService] Provider %s failed after %d attempts: %v", providerID, attempts, err)
		return models.ProviderStatus{
			Provider: providerID,
			Kind:     string(classifyError(err)),
			Message:  err.Error(),
			Attempts: attempts,
		}
	}

	mu.Lock()
	*collected = append(*collected, events...)
	mu.Unlock()

	return models.ProviderStatus{Provider: providerID, OK: true, Count: len(events), Attempts: attempts}
}

// deduplicate 合并不同目录对同一事件的记录。两条记录视为同一事件当且
// 仅当发震时刻、震中位置和震级都在容差范围内；冲突时保留可信度更高
// （优先级靠前）目录的记录，矩张量数据取并集
func (s *EventService) deduplicate(events []models.Event) []models.Event {
	tolTime := time.Duration(s.cfg.EventDedupTimeSec * float64(time.Second))
	tolDist := s.cfg.EventDedupDistDeg
	tolMag := s.cfg.EventDedupMag

	var merged []models.Event
	for _, candidate := range events {
		matched := -1
		for i := range merged {
			dt := candidate.Time.Sub(merged[i].Time)
			if dt < 0 {
				dt = -dt
			}
			if dt > tolTime {
				continue
			}
			if geo.Locations2Degrees(candidate.Latitude, candidate.Longitude, merged[i].Latitude, merged[i].Longitude) > tolDist {
				continue
			}
			if math.Abs(candidate.Magnitude.Value-merged[i].Magnitude.Value) > tolMag {
				continue
			}
			matched = i
			break
		}

		if matched < 0 {
			merged = append(merged, candidate)
			continue
		}

		kept := &merged[matched]
		if s.registry.Priority(candidate.Provider) < s.registry.Priority(kept.Provider) {
			tensors := kept.MomentTensors
			*kept = candidate
			kept.MomentTensors = tensors
		}
		kept.MomentTensors = unionMomentTensors(kept.MomentTensors, candidate.MomentTensors)
	}

	// 合并结果按发震时刻排序，与目录响应顺序无关
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Time.Equal(merged[j].Time) {
			return merged[i].Time.Before(merged[j].Time)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// postFilter 本地统一应用震级/深度上下限和几何过滤，目录端过滤能力
// 不足时越界结果在这里兜底剔除；事件中心模式下顺带计算震中距
func (s *EventService) postFilter(events []models.Event, filters models.QueryFilters) []models.Event {
	kept := make([]models.Event, 0, len(events))
	for i := range events {
		e := events[i]

		m := e.Magnitude.Value
		if filters.MinMagnitude > 0 && m < filters.MinMagnitude {
			continue
		}
		if filters.MaxMagnitude > 0 && m > filters.MaxMagnitude {
			continue
		}
		if filters.MinDepthKm > 0 && e.DepthKm < filters.MinDepthKm {
			continue
		}
		if filters.MaxDepthKm > 0 && e.DepthKm > filters.MaxDepthKm {
			continue
		}

		if filters.ROI != nil && !filters.ROI.Contains(e.Latitude, e.Longitude) {
			continue
		}

		if filters.EventCentered() {
			dist := geo.Locations2Degrees(filters.Center.Latitude, filters.Center.Longitude, e.Latitude, e.Longitude)
			if dist < filters.MinDistanceDeg || (filters.MaxDistanceDeg > 0 && dist > filters.MaxDistanceDeg) {
				continue
			}
			d := dist
			e.DistanceDeg = &d
		}

		kept = append(kept, e)
	}
	return kept
}

// GetEventDetails 在多个目录中按时间窗查找事件详情并收集矩张量。
// 初始搜索阶段不取矩张量以减轻目录服务的压力，确认单个事件时才调用
func (s *EventService) GetEventDetails(ctx context.Context, eventTime time.Time, windowSec float64, mtCatalogs []string) (*models.Event, error) {
	if len(mtCatalogs) == 0 {
		mtCatalogs = []string{"IRIS", "ISC", "USGS"}
	}

	query := fdsn.EventQuery{
		Start: eventTime.Add(-time.Duration(windowSec * float64(time.Second))),
		End:   eventTime.Add(time.Duration(windowSec * float64(time.Second))),
	}

	var found *models.Event
	var tensors []models.MomentTensor

	for _, catalog := range mtCatalogs {
		client, ok := s.factory(catalog)
		if !ok {
			continue
		}

		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		events, err := client.QueryEvents(qctx, query)
		cancel()
		if err != nil {
			logger.Warnf("[EventService] Detail lookup on %s failed: %v", catalog, err)
			continue
		}
		if len(events) == 0 {
			continue
		}

		// 窗口内按时间最接近的事件为匹配
		best := 0
		bestDiff := math.Abs(events[0].Time.Sub(eventTime).Seconds())
		for i := 1; i < len(events); i++ {
			diff := math.Abs(events[i].Time.Sub(eventTime).Seconds())
			if diff < bestDiff {
				best, bestDiff = i, diff
			}
		}

		if found == nil {
			e := events[best]
			found = &e
			logger.Printf("[EventService] Found matching event in %s (time diff: %.2fs)", catalog, bestDiff)
		}
		tensors = unionMomentTensors(tensors, events[best].MomentTensors)
	}

	if found == nil {
		return nil, fmt.Errorf("event near %s: %w", eventTime.UTC().Format(time.RFC3339), common.ErrNotFound)
	}

	found.MomentTensors = tensors
	return found, nil
}

// unionMomentTensors 按来源目录合并矩张量记录，重复来源只保留先见的
func unionMomentTensors(a, b []models.MomentTensor) []models.MomentTensor {
	out := append([]models.MomentTensor(nil), a...)
	for _, mt := range b {
		dup := false
		for _, existing := range out {
			if existing.SourceCatalog == mt.SourceCatalog {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, mt)
		}
	}
	return out
}

// EventStatistics 事件集合的统计摘要
type EventStatistics struct {
	Count           int     `json:"count"`
	MinDistance     float64 `json:"min_distance"`
	MaxDistance     float64 `json:"max_distance"`
	MeanDistance    float64 `json:"mean_distance"`
	MedianDistance  float64 `json:"median_distance"`
	MinMagnitude    float64 `json:"min_magnitude"`
	MaxMagnitude    float64 `json:"max_magnitude"`
	MeanMagnitude   float64 `json:"mean_magnitude"`
	MedianMagnitude float64 `json:"median_magnitude"`
}

// Statistics 计算事件集合的距离与震级统计
func Statistics(events []models.Event) EventStatistics {
	stats := EventStatistics{Count: len(events)}
	if len(events) == 0 {
		return stats
	}

	stats.MinDistance = math.Inf(1)
	stats.MaxDistance = math.Inf(-1)
	stats.MinMagnitude = math.Inf(1)
	stats.MaxMagnitude = math.Inf(-1)

	var sumDist, sumMag float64
	mags := make([]float64, 0, len(events))
	var dists []float64
	for i := range events {
		m := events[i].Magnitude.Value
		stats.MinMagnitude = math.Min(stats.MinMagnitude, m)
		stats.MaxMagnitude = math.Max(stats.MaxMagnitude, m)
		sumMag += m
		mags = append(mags, m)

		if events[i].DistanceDeg == nil {
			continue
		}
		d := *events[i].DistanceDeg
		stats.MinDistance = math.Min(stats.MinDistance, d)
		stats.MaxDistance = math.Max(stats.MaxDistance, d)
		sumDist += d
		dists = append(dists, d)
	}

	stats.MeanMagnitude = sumMag / float64(len(events))
	stats.MedianMagnitude = median(mags)
	if len(dists) > 0 {
		stats.MeanDistance = sumDist / float64(len(dists))
		stats.MedianDistance = median(dists)
	} else {
		stats.MinDistance, stats.MaxDistance = 0, 0
	}
	return stats
}

// median 中位数，输入会被排序
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// SortEvents 按指定字段排序事件，返回新切片不修改输入。
// 支持的字段：time、magnitude、depth、distance
func SortEvents(events []models.Event, field string, descending bool) []models.Event {
	out := append([]models.Event(nil), events...)

	less := func(i, j int) bool { return out[i].Time.Before(out[j].Time) }
	switch field {
	case "magnitude":
		less = func(i, j int) bool { return out[i].Magnitude.Value < out[j].Magnitude.Value }
	case "depth":
		less = func(i, j int) bool { return out[i].DepthKm < out[j].DepthKm }
	case "distance":
		less = func(i, j int) bool {
			di, dj := math.Inf(1), math.Inf(1)
			if out[i].DistanceDeg != nil {
				di = *out[i].DistanceDeg
			}
			if out[j].DistanceDeg != nil {
				dj = *out[j].DistanceDeg
			}
			return di < dj
		}
	}

	if descending {
		sort.SliceStable(out, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(out, less)
	}
	return out
}
