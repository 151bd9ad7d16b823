package services

import (
	"math"
	"sort"

	"fdsn-service/logger"
	"fdsn-service/pkg/models"
)

// CleanupOptions 轨迹清理选项
type CleanupOptions struct {
	// Merge 是否把相邻分段合并成连续轨迹
	Merge bool
	// FillValue 缺口填充值，nil 表示只记录不填充
	FillValue *float64
	// MaxGapSeconds 可填充的最大缺口长度（秒），超过的缺口保留并上报
	MaxGapSeconds float64
}

// CleanTraces 按 (事件, 通道) 分组清理原始轨迹：检测缺口和重叠，按
// 选项合并分段并填充小缺口。无论是否合并，结果都携带完整的缺口/重叠
// 清单，供下游评估数据质量
func CleanTraces(traces []models.Trace, opts CleanupOptions) *models.CleanedTraces {
	result := &models.CleanedTraces{}

	groups := make(map[string][]models.Trace)
	var order []string
	for _, tr := range traces {
		key := tr.EventID + "/" + tr.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tr)
	}
	sort.Strings(order)

	for _, key := range order {
		segs := groups[key]
		sort.SliceStable(segs, func(i, j int) bool {
			if !segs[i].Start.Equal(segs[j].Start) {
				return segs[i].Start.Before(segs[j].Start)
			}
			return segs[i].FetchSeq < segs[j].FetchSeq
		})
		result.Traces = append(result.Traces, cleanGroup(segs, opts, result)...)
	}

	logger.Printf("[TraceCleanup] %d raw segments -> %d traces, %d gaps, %d overlaps",
		len(traces), len(result.Traces), len(result.Gaps), len(result.Overlaps))
	return result
}

// cleanGroup 清理一个通道分组，segs 已按开始时间排序
func cleanGroup(segs []models.Trace, opts CleanupOptions, result *models.CleanedTraces) []models.Trace {
	if len(segs) == 0 {
		return nil
	}
	rate := segs[0].SampleRate
	if rate <= 0 {
		// 没有采样率就无法推算连续性，原样返回
		return segs
	}

	// 容差取半个采样间隔，吸收采样对齐的舍入误差
	tol := 0.5 / rate

	current := segs[0]
	current.Samples = append([]float64(nil), current.Samples...)
	lastSeq := current.FetchSeq

	var out []models.Trace
	for _, seg := range segs[1:] {
		if seg.SampleRate != rate {
			// 采样率不一致的分段不参与合并
			out = append(out, seg)
			continue
		}

		diff := seg.Start.Sub(current.End()).Seconds()

		switch {
		case math.Abs(diff) <= tol:
			// 连续分段
			if opts.Merge {
				current.Samples = append(current.Samples, seg.Samples...)
				lastSeq = seg.FetchSeq
				continue
			}

		case diff > tol:
			gap := models.Gap{
				TraceKey:    seg.Key(),
				Start:       current.End(),
				End:         seg.Start,
				DurationSec: diff,
			}
			if opts.Merge && opts.FillValue != nil && diff <= opts.MaxGapSeconds {
				n := int(math.Round(diff * rate))
				for i := 0; i < n; i++ {
					current.Samples = append(current.Samples, *opts.FillValue)
				}
				current.Samples = append(current.Samples, seg.Samples...)
				lastSeq = seg.FetchSeq
				gap.Filled = true
				result.Gaps = append(result.Gaps, gap)
				continue
			}
			result.Gaps = append(result.Gaps, gap)

		default:
			// 重叠，负时长
			overlap := models.Gap{
				TraceKey:    seg.Key(),
				Start:       seg.Start,
				End:         current.End(),
				DurationSec: diff,
			}
			result.Overlaps = append(result.Overlaps, overlap)
			if opts.Merge {
				// 覆盖位置由分段起点相对 current 起点推算，嵌套分段
				// 只覆盖中间区间，不动尾部
				off := int(math.Round(seg.Start.Sub(current.Start).Seconds() * rate))
				n := len(current.Samples) - off
				if n > len(seg.Samples) {
					n = len(seg.Samples)
				}
				// 重叠区间保留先取回分段的采样值，不做插值
				if seg.FetchSeq < lastSeq && off >= 0 && n > 0 {
					copy(current.Samples[off:off+n], seg.Samples[:n])
				}
				if n < len(seg.Samples) {
					current.Samples = append(current.Samples, seg.Samples[n:]...)
					lastSeq = seg.FetchSeq
				}
				continue
			}
		}

		// 不合并或缺口太大：结束当前分段，从下一段重新开始
		out = append(out, current)
		current = seg
		current.Samples = append([]float64(nil), current.Samples...)
		lastSeq = seg.FetchSeq
	}

	return append(out, current)
}
