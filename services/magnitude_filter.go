package services

import (
	"fmt"
	"sort"

	"fdsn-service/pkg/geo"
	"fdsn-service/pkg/models"
)

// CurvePoint 距离-震级曲线上的一个控制点
type CurvePoint struct {
	DistanceDeg  float64 `json:"distance_deg"`
	MinMagnitude float64 `json:"min_magnitude"`
}

// MagnitudeFilter 动态震级过滤器。远处的事件只有足够大才有意义，
// 深源事件衰减更小，截止震级随深度下调
type MagnitudeFilter struct {
	// 可选的分段线性曲线，为空时使用内置公式
	curve []CurvePoint
}

// NewMagnitudeFilter 创建使用内置距离公式的过滤器
func NewMagnitudeFilter() *MagnitudeFilter {
	return &MagnitudeFilter{}
}

// NewCurveFilter 创建使用自定义分段线性曲线的过滤器。
// 控制点按距离排序，至少需要两个点
func NewCurveFilter(curve []CurvePoint) (*MagnitudeFilter, error) {
	if len(curve) < 2 {
		return nil, fmt.Errorf("magnitude curve needs at least 2 points, got %d", len(curve))
	}

	sorted := make([]CurvePoint, len(curve))
	copy(sorted, curve)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DistanceDeg < sorted[j].DistanceDeg
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].DistanceDeg == sorted[i-1].DistanceDeg {
			return nil, fmt.Errorf("magnitude curve has duplicate distance %g", sorted[i].DistanceDeg)
		}
	}

	return &MagnitudeFilter{curve: sorted}, nil
}

// Cutoff 计算给定震中距和震源深度下的最低可用震级
func (f *MagnitudeFilter) Cutoff(distanceDeg, depthKm float64) float64 {
	var base float64
	if len(f.curve) > 0 {
		base = interpolateCurve(f.curve, distanceDeg)
	} else {
		// 基准：30 度 5.2 级，180 度 6.2 级，线性上升
		base = 5.2 + (6.0-5.0)*(distanceDeg-30.0)/(180.0-30.0)
	}
	// 深度修正，700 公里深源事件下调一个震级
	return base - depthKm/700.0
}

// Apply 按参考点计算每个事件的震中距与动态截止震级，返回通过过滤的
// 事件和被滤掉的事件。两组中的事件副本都会被标注距离和截止值，便于
// 前端展示被滤掉的原因；输入事件不被修改
func (f *MagnitudeFilter) Apply(events []models.Event, center models.Point) (passing, filteredOut []models.Event) {
	for i := range events {
		dist := geo.Locations2Degrees(center.Latitude, center.Longitude, events[i].Latitude, events[i].Longitude)
		cutoff := f.Cutoff(dist, events[i].DepthKm)

		e := events[i]
		d, c := dist, cutoff
		e.DistanceDeg = &d
		e.DynamicCutoff = &c

		if e.Magnitude.Value >= cutoff {
			passing = append(passing, e)
		} else {
			filteredOut = append(filteredOut, e)
		}
	}
	return passing, filteredOut
}

// PreviewCurve 生成截止震级随距离变化的曲线数据，供前端绘图
func (f *MagnitudeFilter) PreviewCurve(minDist, maxDist float64, depthsKm []float64, points int) map[string][]float64 {
	if points < 2 {
		points = 100
	}
	if len(depthsKm) == 0 {
		depthsKm = []float64{0, 100, 300, 700}
	}

	out := make(map[string][]float64, len(depthsKm)+1)
	distances := make([]float64, points)
	step := (maxDist - minDist) / float64(points-1)
	for i := range distances {
		distances[i] = minDist + float64(i)*step
	}
	out["distances"] = distances

	for _, depth := range depthsKm {
		cutoffs := make([]float64, points)
		for i, d := range distances {
			cutoffs[i] = f.Cutoff(d, depth)
		}
		out[fmt.Sprintf("depth_%g", depth)] = cutoffs
	}
	return out
}

// DepthBreakpoint 震级-深度曲线上的一个控制点
type DepthBreakpoint struct {
	Magnitude  float64 `json:"magnitude"`
	MaxDepthKm float64 `json:"max_depth_km"`
}

// MagnitudeDepthCurve 单调分段线性曲线，给出每个震级允许的最大深度。
// 曲线对任意震级有定义，超出控制点范围时沿最外侧线段外推
type MagnitudeDepthCurve struct {
	points []DepthBreakpoint
}

// NewMagnitudeDepthCurve 创建曲线，控制点按震级排序
func NewMagnitudeDepthCurve(points []DepthBreakpoint) (*MagnitudeDepthCurve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("magnitude-depth curve needs at least 2 breakpoints, got %d", len(points))
	}

	sorted := make([]DepthBreakpoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Magnitude < sorted[j].Magnitude
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Magnitude == sorted[i-1].Magnitude {
			return nil, fmt.Errorf("magnitude-depth curve has duplicate magnitude %g", sorted[i].Magnitude)
		}
	}

	return &MagnitudeDepthCurve{points: sorted}, nil
}

// MaxDepth 返回该震级允许的最大深度
func (c *MagnitudeDepthCurve) MaxDepth(magnitude float64) float64 {
	pts := c.points
	// 范围外沿最外侧线段外推
	if magnitude <= pts[0].Magnitude {
		return extrapolate(pts[0], pts[1], magnitude)
	}
	last := len(pts) - 1
	if magnitude >= pts[last].Magnitude {
		return extrapolate(pts[last-1], pts[last], magnitude)
	}

	for i := 1; i < len(pts); i++ {
		if magnitude <= pts[i].Magnitude {
			return extrapolate(pts[i-1], pts[i], magnitude)
		}
	}
	return pts[last].MaxDepthKm
}

// Filter 保留深度不超过曲线上限的事件。纯函数，保持输入顺序，不修改
// 输入事件
func (c *MagnitudeDepthCurve) Filter(events []models.Event) []models.Event {
	kept := make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.DepthKm <= c.MaxDepth(e.Magnitude.Value) {
			kept = append(kept, e)
		}
	}
	return kept
}

func extrapolate(a, b DepthBreakpoint, magnitude float64) float64 {
	slope := (b.MaxDepthKm - a.MaxDepthKm) / (b.Magnitude - a.Magnitude)
	return a.MaxDepthKm + slope*(magnitude-a.Magnitude)
}

// interpolateCurve 在控制点之间线性插值，范围外取端点值
func interpolateCurve(curve []CurvePoint, distanceDeg float64) float64 {
	if distanceDeg <= curve[0].DistanceDeg {
		return curve[0].MinMagnitude
	}
	last := curve[len(curve)-1]
	if distanceDeg >= last.DistanceDeg {
		return last.MinMagnitude
	}

	for i := 1; i < len(curve); i++ {
		if distanceDeg > curve[i].DistanceDeg {
			continue
		}
		lo, hi := curve[i-1], curve[i]
		frac := (distanceDeg - lo.DistanceDeg) / (hi.DistanceDeg - lo.DistanceDeg)
		return lo.MinMagnitude + frac*(hi.MinMagnitude-lo.MinMagnitude)
	}
	return last.MinMagnitude
}
