package models

import (
	"fmt"
	"regexp"
	"time"
)

// Magnitude 单个震级估计
type Magnitude struct {
	Type   string  `json:"type"`             // Mw, mb, Ms 等
	Value  float64 `json:"value"`
	Author string  `json:"author,omitempty"` // 提供机构
}

// MomentTensor 矩张量/震源机制解
type MomentTensor struct {
	SourceCatalog string             `json:"source_catalog,omitempty"`
	Tensor        map[string]float64 `json:"tensor,omitempty"` // m_rr, m_tt, m_pp, m_rt, m_rp, m_tp
	ScalarMoment  float64            `json:"scalar_moment,omitempty"`
	NodalPlanes   []NodalPlane       `json:"nodal_planes,omitempty"`
}

// NodalPlane 节面（走向/倾角/滑动角）
type NodalPlane struct {
	Name   string  `json:"name"`
	Strike float64 `json:"strike"`
	Dip    float64 `json:"dip"`
	Rake   float64 `json:"rake"`
}

// OriginUncertainty 发震参数不确定度（全部可选）
type OriginUncertainty struct {
	TimeSec  float64 `json:"time_sec,omitempty"`
	LatDeg   float64 `json:"lat_deg,omitempty"`
	LonDeg   float64 `json:"lon_deg,omitempty"`
	DepthKm  float64 `json:"depth_km,omitempty"`
}

// Event 统一的地震事件模型。深度和首选震级为必填，其余可选
type Event struct {
	ID         string    `json:"event_id"`
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	DepthKm    float64   `json:"depth"`

	// 首选震级之外的估计保存在 Magnitudes 中
	Magnitude     Magnitude   `json:"magnitude"`
	Magnitudes    []Magnitude `json:"magnitudes,omitempty"`

	Uncertainty   *OriginUncertainty `json:"uncertainty,omitempty"`
	MomentTensors []MomentTensor     `json:"moment_tensors,omitempty"`

	// 返回该事件的数据中心
	Provider string `json:"catalog_source"`

	// 事件中心模式下相对参考点的震中距（度）
	DistanceDeg *float64 `json:"distance_deg,omitempty"`

	// 动态震级-深度过滤计算出的阈值（过滤后填充）
	DynamicCutoff *float64 `json:"dynamic_cutoff,omitempty"`
}

var unsafeIDChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

// SafeID 返回适合做目录名的事件标识。ID 缺失或清洗后为空时
// 退化为由发震时刻导出的键
func (e *Event) SafeID() string {
	id := unsafeIDChars.ReplaceAllString(e.ID, "_")
	for len(id) > 0 && (id[0] == '_' || id[0] == '.') {
		id = id[1:]
	}
	if id == "" {
		return e.Time.UTC().Format("20060102_150405")
	}
	return id
}

// HasMomentTensor 是否带有矩张量数据
func (e *Event) HasMomentTensor() bool {
	return len(e.MomentTensors) > 0
}

// String 简短的日志表示
func (e *Event) String() string {
	return fmt.Sprintf("%s M%.1f depth=%.0fkm (%.2f, %.2f)",
		e.Time.UTC().Format("2006-01-02 15:04:05"), e.Magnitude.Value, e.DepthKm, e.Latitude, e.Longitude)
}
