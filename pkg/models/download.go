package models

import (
	"fmt"
	"time"
)

// DownloadRequest 单条波形下载请求
type DownloadRequest struct {
	Network  string    `json:"network"`
	Station  string    `json:"station"`
	Location string    `json:"location"`
	Channel  string    `json:"channel"`
	EventID  string    `json:"event_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Provider string    `json:"provider"`
}

// TraceKey 波形轨迹标识 NET.STA.LOC.CHA
func (r *DownloadRequest) TraceKey() string {
	return fmt.Sprintf("%s.%s.%s.%s", r.Network, r.Station, r.Location, r.Channel)
}

// BulkBatch 同一数据中心的批量下载批次
type BulkBatch struct {
	Provider   string            `json:"provider"`
	ChunkIndex int               `json:"chunk_index"`
	Requests   []DownloadRequest `json:"requests"`
}

// UnitStatus 下载单元状态机
// Pending → InFlight → {Succeeded, Failed, Cancelled}
// 瞬时失败在重试耗尽前回到 Pending
type UnitStatus string

const (
	UnitPending   UnitStatus = "pending"
	UnitInFlight  UnitStatus = "in_flight"
	UnitSucceeded UnitStatus = "succeeded"
	UnitFailed    UnitStatus = "failed"
	UnitCancelled UnitStatus = "cancelled"
)

// Trace 原始波形轨迹
type Trace struct {
	Network    string    `json:"network"`
	Station    string    `json:"station"`
	Location   string    `json:"location"`
	Channel    string    `json:"channel"`
	EventID    string    `json:"event_id,omitempty"`
	SampleRate float64   `json:"sample_rate"`
	Start      time.Time `json:"start"`
	Samples    []float64 `json:"-"`

	// 获取顺序，重叠时优先保留先取回的数据
	FetchSeq int `json:"-"`
}

// Key 轨迹分组键 NET.STA.LOC.CHA
func (t *Trace) Key() string {
	return fmt.Sprintf("%s.%s.%s.%s", t.Network, t.Station, t.Location, t.Channel)
}

// End 轨迹结束时刻（最后一个采样点之后一个采样间隔）
func (t *Trace) End() time.Time {
	if t.SampleRate <= 0 {
		return t.Start
	}
	dur := time.Duration(float64(len(t.Samples)) / t.SampleRate * float64(time.Second))
	return t.Start.Add(dur)
}

// Gap 检测到的数据缺口或重叠（负时长表示重叠）
type Gap struct {
	TraceKey    string    `json:"trace_key"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	DurationSec float64   `json:"duration_sec"`
	Filled      bool      `json:"filled"`
}

// DownloadFailure 可归因的下载失败记录
type DownloadFailure struct {
	Request  *DownloadRequest `json:"request,omitempty"`
	Provider string           `json:"provider"`
	EventID  string           `json:"event_id,omitempty"`
	Batch    int              `json:"batch,omitempty"`
	Kind     string           `json:"kind"`
	Message  string           `json:"message"`
	Attempts int              `json:"attempts"`
}

// PlanOmission 规划阶段跳过的台站-事件对
type PlanOmission struct {
	Network string `json:"network"`
	Station string `json:"station"`
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DownloadOutcome 下载执行结果。部分成功是常态而不是异常。
// 取消属于终态而不是错误，被放弃的单元单独记在 Abandoned 中
type DownloadOutcome struct {
	Traces    []Trace           `json:"-"`
	Failures  []DownloadFailure `json:"failures"`
	Abandoned []DownloadFailure `json:"abandoned,omitempty"`
	Cancelled bool              `json:"cancelled"`
	Requested int               `json:"requested"`
	Completed int               `json:"completed"`
}

// CleanedTraces 清理结果，始终携带缺口/重叠清单
type CleanedTraces struct {
	Traces   []Trace `json:"-"`
	Gaps     []Gap   `json:"gaps"`
	Overlaps []Gap   `json:"overlaps"`
}
