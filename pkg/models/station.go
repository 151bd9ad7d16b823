package models

import (
	"sort"
	"strings"
	"time"
)

// Station 统一的台站模型
type Station struct {
	Network   string  `json:"network"`
	Station   string  `json:"station"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
	SiteName  string  `json:"site_name,omitempty"`

	// 运行时间范围；零值表示数据中心未提供
	StartDate time.Time `json:"start_date,omitempty"`
	EndDate   time.Time `json:"end_date,omitempty"`

	// 可用通道码（如 BHZ, BHN, HHZ）
	Channels []string `json:"channels,omitempty"`

	// 首次返回该台站的数据中心；Providers 记录全部来源
	Provider  string   `json:"provider"`
	Providers []string `json:"providers,omitempty"`

	// 事件中心模式下才填充的字段
	DistanceDeg *float64 `json:"distance_deg,omitempty"`
	Azimuth     *float64 `json:"azimuth,omitempty"`
	BackAzimuth *float64 `json:"back_azimuth,omitempty"`
}

// Key 台站唯一标识（大小写归一化的 NET.STA）
func (s *Station) Key() string {
	return strings.ToUpper(s.Network) + "." + strings.ToUpper(s.Station)
}

// ChannelFamilies 返回可用通道族前缀（如 BH, HH），排序去重
func (s *Station) ChannelFamilies() []string {
	set := make(map[string]bool)
	for _, ch := range s.Channels {
		if len(ch) >= 2 {
			set[strings.ToUpper(ch[:2])] = true
		}
	}
	families := make([]string, 0, len(set))
	for f := range set {
		families = append(families, f)
	}
	sort.Strings(families)
	return families
}

// OperatesDuring 判断台站运行时间范围是否与给定窗口重叠
// 缺失的日期按开放区间处理
func (s *Station) OperatesDuring(start, end time.Time) bool {
	if !s.StartDate.IsZero() && s.StartDate.After(end) {
		return false
	}
	if !s.EndDate.IsZero() && s.EndDate.Before(start) {
		return false
	}
	return true
}
