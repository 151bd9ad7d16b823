package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fdsn-service/config"
	"fdsn-service/fdsn"
	"fdsn-service/logger"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/geo"
	"fdsn-service/pkg/models"
)

// ArrivalOracle 走时计算的外部接口。返回 ok=false 表示该震相在此
// 距离/深度组合下没有到时
type ArrivalOracle interface {
	Arrival(ctx context.Context, phase, model string, distanceDeg, depthKm float64) (fdsn.Arrival, bool, error)
}

// PlanParams 下载规划参数
type PlanParams struct {
	TimeBefore    float64  // P 波到时前的时间窗（秒）
	TimeAfter     float64  // P 波到时后的时间窗（秒）
	Channels      []string // 通道选择，支持 BH? 通配
	Location      string
	Phase         string
	VelocityModel string
	BulkDownload  bool
	ChunkSize     int

	// 非空时所有请求路由到该数据中心，否则按台站来源路由
	Provider string
}

// ArrivalRecord 规划过程中计算出的一条震相走时
type ArrivalRecord struct {
	EventID       string  `json:"event_id"`
	StationKey    string  `json:"station_key"`
	Phase         string  `json:"phase"`
	DistanceDeg   float64 `json:"distance_deg"`
	TravelTimeSec float64 `json:"travel_time_sec"`
}

// DownloadPlan 规划输出：批量批次、逐条请求和被跳过的台站-事件对
type DownloadPlan struct {
	Batches       []models.BulkBatch       `json:"batches"`
	Singles       []models.DownloadRequest `json:"singles"`
	Omissions     []models.PlanOmission    `json:"omissions"`
	Arrivals      []ArrivalRecord          `json:"arrivals,omitempty"`
	TotalRequests int                      `json:"total_requests"`
}

// Units 规划中的下载单元总数（批次 + 逐条请求）
func (p *DownloadPlan) Units() int {
	return len(p.Batches) + len(p.Singles)
}

// DownloadPlanner 把事件×台站选择展开为带时间窗的下载请求
type DownloadPlanner struct {
	oracle   ArrivalOracle
	registry *fdsn.Registry
	cfg      *config.Config
	sink     ProgressSink
}

// NewDownloadPlanner 创建 DownloadPlanner 实例
func NewDownloadPlanner(oracle ArrivalOracle, registry *fdsn.Registry, cfg *config.Config, sink ProgressSink) *DownloadPlanner {
	if sink == nil {
		sink = NopSink{}
	}
	return &DownloadPlanner{oracle: oracle, registry: registry, cfg: cfg, sink: sink}
}

// Plan 为每个事件-台站对计算到时时间窗并解析通道，按数据中心分组为
// 批量批次或逐条请求。无法计算到时或没有匹配通道的对被记为遗漏而不是
// 错误。相同输入产生相同的输出顺序和分批
func (p *DownloadPlanner) Plan(ctx context.Context, events []models.Event, stations []models.Station, params PlanParams) (*DownloadPlan, error) {
	if len(events) == 0 || len(stations) == 0 {
		return nil, fmt.Errorf("%w: need at least one event and one station", common.ErrInvalidInput)
	}
	if params.Phase == "" {
		params.Phase = p.cfg.PrimaryPhase
	}
	if params.VelocityModel == "" {
		params.VelocityModel = p.cfg.VelocityModel
	}
	if params.ChunkSize <= 0 {
		params.ChunkSize = p.cfg.ChunkSize
	}
	if params.TimeBefore <= 0 {
		params.TimeBefore = p.cfg.TimeBefore
	}
	if params.TimeAfter <= 0 {
		params.TimeAfter = p.cfg.TimeAfter
	}

	// 规划顺序与数据中心响应无关：台站按数据中心、事件时间、台站键稳定排序
	sortedStations := make([]models.Station, len(stations))
	copy(sortedStations, stations)
	sort.SliceStable(sortedStations, func(i, j int) bool {
		pi := p.routeProvider(&sortedStations[i], params)
		pj := p.routeProvider(&sortedStations[j], params)
		if pi != pj {
			return pi < pj
		}
		return sortedStations[i].Key() < sortedStations[j].Key()
	})
	sortedEvents := make([]models.Event, len(events))
	copy(sortedEvents, events)
	sort.SliceStable(sortedEvents, func(i, j int) bool {
		if !sortedEvents[i].Time.Equal(sortedEvents[j].Time) {
			return sortedEvents[i].Time.Before(sortedEvents[j].Time)
		}
		return sortedEvents[i].ID < sortedEvents[j].ID
	})

	providers := make([]string, len(sortedStations))
	channelSets := make([][]string, len(sortedStations))
	for si := range sortedStations {
		providers[si] = p.routeProvider(&sortedStations[si], params)
		channelSets[si] = resolveChannels(params.Channels, sortedStations[si].ChannelFamilies())
	}

	plan := &DownloadPlan{}
	byProvider := make(map[string][]models.DownloadRequest)
	var providerOrder []string

	total := len(sortedEvents) * len(sortedStations)
	done := 0

	// 事件为外层循环，同一数据中心内请求按事件、台站排列
	for ei := range sortedEvents {
		event := &sortedEvents[ei]

		for si := range sortedStations {
			station := &sortedStations[si]
			provider := providers[si]
			channels := channelSets[si]
			done++

			if len(channels) == 0 {
				plan.Omissions = append(plan.Omissions, models.PlanOmission{
					Network: station.Network,
					Station: station.Station,
					EventID: event.ID,
					Kind:    string(common.KindChannelUnavailable),
					Message: fmt.Sprintf("station advertises %v, requested %v", station.ChannelFamilies(), params.Channels),
				})
				continue
			}

			dist := geo.Locations2Degrees(event.Latitude, event.Longitude, station.Latitude, station.Longitude)
			arrival, ok, err := p.oracle.Arrival(ctx, params.Phase, params.VelocityModel, dist, event.DepthKm)
			if err != nil {
				return nil, fmt.Errorf("arrival oracle: %w", err)
			}
			if !ok {
				plan.Omissions = append(plan.Omissions, models.PlanOmission{
					Network: station.Network,
					Station: station.Station,
					EventID: event.ID,
					Kind:    string(common.KindNoArrival),
					Message: fmt.Sprintf("no %s arrival at %.1f deg, depth %.0f km", params.Phase, dist, event.DepthKm),
				})
				continue
			}

			plan.Arrivals = append(plan.Arrivals, ArrivalRecord{
				EventID:       event.ID,
				StationKey:    station.Key(),
				Phase:         params.Phase,
				DistanceDeg:   dist,
				TravelTimeSec: arrival.TimeOffsetSec,
			})

			arrivalTime := event.Time.Add(time.Duration(arrival.TimeOffsetSec * float64(time.Second)))
			start := arrivalTime.Add(-time.Duration(params.TimeBefore * float64(time.Second)))
			end := arrivalTime.Add(time.Duration(params.TimeAfter * float64(time.Second)))

			for _, channel := range channels {
				req := models.DownloadRequest{
					Network:  station.Network,
					Station:  station.Station,
					Location: params.Location,
					Channel:  channel,
					EventID:  event.ID,
					Start:    start,
					End:      end,
					Provider: provider,
				}
				if _, seen := byProvider[provider]; !seen {
					providerOrder = append(providerOrder, provider)
				}
				byProvider[provider] = append(byProvider[provider], req)
			}

			if done%50 == 0 || done == total {
				p.sink.Publish(ProgressUpdate{
					Stage:     StagePlanning,
					Message:   fmt.Sprintf("planned %d/%d event-station pairs", done, total),
					Completed: done,
					Total:     total,
				})
			}
		}
	}

	// 数据中心按标识排序，同一中心的请求保持生成顺序分批，
	// 保证分批结果可复现
	sort.Strings(providerOrder)
	for _, provider := range providerOrder {
		reqs := byProvider[provider]
		plan.TotalRequests += len(reqs)

		useBulk := params.BulkDownload
		if prov, ok := p.registry.Get(provider); ok && !prov.SupportsBulk {
			useBulk = false
		}

		if !useBulk {
			plan.Singles = append(plan.Singles, reqs...)
			continue
		}
		for i := 0; i < len(reqs); i += params.ChunkSize {
			end := i + params.ChunkSize
			if end > len(reqs) {
				end = len(reqs)
			}
			plan.Batches = append(plan.Batches, models.BulkBatch{
				Provider:   provider,
				ChunkIndex: len(plan.Batches),
				Requests:   reqs[i:end],
			})
		}
	}

	logger.Printf("[DownloadPlanner] Plan ready: %d requests in %d batches, %d singles, %d omissions",
		plan.TotalRequests, len(plan.Batches), len(plan.Singles), len(plan.Omissions))
	return plan, nil
}

// routeProvider 确定单条请求的目标数据中心
func (p *DownloadPlanner) routeProvider(station *models.Station, params PlanParams) string {
	if params.Provider != "" {
		return params.Provider
	}
	if station.Provider != "" {
		return station.Provider
	}
	return p.cfg.DefaultProvider
}

// resolveChannels 将请求的通道选择与台站公布的通道族求交集，并展开
// BH? 这样的通配模式。交集为空时返回空，不会退而使用无关的通道族
func resolveChannels(requested []string, availableFamilies []string) []string {
	if len(requested) == 0 {
		return nil
	}

	available := make(map[string]bool, len(availableFamilies))
	for _, fam := range availableFamilies {
		available[strings.ToUpper(fam)] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, pattern := range requested {
		pattern = strings.ToUpper(strings.TrimSpace(pattern))
		if len(pattern) < 2 {
			continue
		}
		// 台站没有公布通道时无法判定，保留请求原样
		if len(available) > 0 && !available[pattern[:2]] {
			continue
		}
		for _, ch := range expandChannelPattern(pattern) {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}

// expandChannelPattern 将 BH? 展开为 BHZ/BHN/BHE，明确的通道码原样保留
func expandChannelPattern(pattern string) []string {
	if len(pattern) == 3 && pattern[2] == '?' {
		prefix := pattern[:2]
		return []string{prefix + "Z", prefix + "N", prefix + "E"}
	}
	return []string{pattern}
}
