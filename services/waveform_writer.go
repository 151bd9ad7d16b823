package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fdsn-service/logger"
	"fdsn-service/pkg/models"
)

// WaveformWriter 将下载的轨迹按事件分目录写盘，文件名由通道标识确定
type WaveformWriter struct {
	baseDir string
}

// NewWaveformWriter 创建 WaveformWriter 实例
func NewWaveformWriter(baseDir string) *WaveformWriter {
	return &WaveformWriter{baseDir: baseDir}
}

// Save 写出所有轨迹。目录名取清洗后的事件标识，事件标识缺失时退化为
// 轨迹开始时刻；文件名为 NET.STA.LOC.CHA.csv，每个事件下每个通道一个
// 文件
func (w *WaveformWriter) Save(traces []models.Trace) (int, error) {
	saved := 0
	for i := range traces {
		tr := &traces[i]

		dir := filepath.Join(w.baseDir, eventDirName(tr))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return saved, fmt.Errorf("failed to create %s: %w", dir, err)
		}

		path := filepath.Join(dir, tr.Key()+".csv")
		if err := writeTrace(path, tr); err != nil {
			return saved, err
		}
		saved++
	}

	logger.Printf("[WaveformWriter] Saved %d traces under %s", saved, w.baseDir)
	return saved, nil
}

// eventDirName 事件目录名，非法字符替换为下划线
func eventDirName(tr *models.Trace) string {
	if tr.EventID == "" {
		return tr.Start.UTC().Format("20060102_150405")
	}
	e := models.Event{ID: tr.EventID, Time: tr.Start}
	return e.SafeID()
}

// writeTrace 以 GeoCSV 时间序列格式写出单条轨迹
func writeTrace(path string, tr *models.Trace) error {
	var b strings.Builder
	b.WriteString("# dataset: GeoCSV 2.0\n")
	fmt.Fprintf(&b, "# SID: %s_%s_%s_%s\n", tr.Network, tr.Station, tr.Location, tr.Channel)
	fmt.Fprintf(&b, "# sample_rate_hz: %s\n", strconv.FormatFloat(tr.SampleRate, 'f', -1, 64))
	b.WriteString("Time, Sample\n")

	interval := time.Duration(0)
	if tr.SampleRate > 0 {
		interval = time.Duration(float64(time.Second) / tr.SampleRate)
	}
	for i, sample := range tr.Samples {
		ts := tr.Start.Add(time.Duration(i) * interval)
		fmt.Fprintf(&b, "%s, %s\n", ts.UTC().Format("2006-01-02T15:04:05.000000Z"), strconv.FormatFloat(sample, 'f', -1, 64))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
