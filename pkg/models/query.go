package models

import (
	"time"

	"fdsn-service/pkg/geo"
)

// QueryFilters 联合查询过滤条件。时间范围必填；
// ROI 与事件中心模式由调用方保证互斥
type QueryFilters struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// 空间过滤二选一
	ROI    geo.ROI  `json:"-"`
	Center *Point   `json:"center,omitempty"`
	MinDistanceDeg float64 `json:"min_distance_deg,omitempty"`
	MaxDistanceDeg float64 `json:"max_distance_deg,omitempty"`

	// 台站查询参数（支持 FDSN 通配符）
	Networks      string `json:"networks,omitempty"`
	Stations      string `json:"stations,omitempty"`
	Channels      string `json:"channels,omitempty"`
	IncludeClosed bool   `json:"include_closed,omitempty"`

	// 事件查询参数
	MinMagnitude float64 `json:"min_magnitude,omitempty"`
	MaxMagnitude float64 `json:"max_magnitude,omitempty"`
	MinDepthKm   float64 `json:"min_depth_km,omitempty"`
	MaxDepthKm   float64 `json:"max_depth_km,omitempty"`
}

// Point 地理参考点
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EventCentered 是否为事件中心（震中距范围）模式
func (f *QueryFilters) EventCentered() bool {
	return f.Center != nil
}

// ProviderStatus 单个数据中心的查询结果状态
type ProviderStatus struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Count    int    `json:"count"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts"`
}

// StationResult 台站联合查询结果
type StationResult struct {
	Stations []Station        `json:"stations"`
	Statuses []ProviderStatus `json:"per_provider_status"`
}

// EventResult 事件联合查询结果
type EventResult struct {
	Events   []Event          `json:"events"`
	Statuses []ProviderStatus `json:"per_provider_status"`
}
