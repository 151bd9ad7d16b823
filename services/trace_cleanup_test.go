package services

import (
	"math"
	"testing"
	"time"

	"fdsn-service/pkg/models"
)

func segment(start time.Time, rate float64, samples []float64, seq int) models.Trace {
	return models.Trace{
		Network:    "IU",
		Station:    "ANMO",
		Location:   "00",
		Channel:    "BHZ",
		EventID:    "ev1",
		SampleRate: rate,
		Start:      start,
		Samples:    samples,
		FetchSeq:   seq,
	}
}

func constSamples(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestCleanTracesFillsSmallGap(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	fill := 0.0
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 0),
		segment(base.Add(15*time.Second), 1, constSamples(5, 2), 1),
	}

	result := CleanTraces(traces, CleanupOptions{
		Merge:         true,
		FillValue:     &fill,
		MaxGapSeconds: 10,
	})

	if len(result.Traces) != 1 {
		t.Fatalf("expected 1 merged trace, got %d", len(result.Traces))
	}
	merged := result.Traces[0]
	if len(merged.Samples) != 20 {
		t.Fatalf("expected 20 samples (10 data + 5 fill + 5 data), got %d", len(merged.Samples))
	}
	for i := 10; i < 15; i++ {
		if merged.Samples[i] != 0 {
			t.Errorf("sample %d: expected fill value 0, got %v", i, merged.Samples[i])
		}
	}
	if merged.Samples[9] != 1 || merged.Samples[15] != 2 {
		t.Errorf("data samples disturbed around the gap: %v, %v", merged.Samples[9], merged.Samples[15])
	}

	if len(result.Gaps) != 1 {
		t.Fatalf("expected 1 gap in the manifest, got %d", len(result.Gaps))
	}
	gap := result.Gaps[0]
	if !gap.Filled {
		t.Error("gap should be marked filled")
	}
	if math.Abs(gap.DurationSec-5) > 1e-9 {
		t.Errorf("expected 5s gap, got %v", gap.DurationSec)
	}
	if !gap.Start.Equal(base.Add(10 * time.Second)) {
		t.Errorf("unexpected gap start: %v", gap.Start)
	}
}

func TestCleanTracesReportsOversizedGap(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	fill := 0.0
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 0),
		segment(base.Add(15*time.Second), 1, constSamples(5, 2), 1),
	}

	result := CleanTraces(traces, CleanupOptions{
		Merge:         true,
		FillValue:     &fill,
		MaxGapSeconds: 2,
	})

	if len(result.Traces) != 2 {
		t.Fatalf("expected 2 separate traces, got %d", len(result.Traces))
	}
	if len(result.Traces[0].Samples) != 10 || len(result.Traces[1].Samples) != 5 {
		t.Errorf("segments modified: %d / %d samples",
			len(result.Traces[0].Samples), len(result.Traces[1].Samples))
	}
	if len(result.Gaps) != 1 {
		t.Fatalf("expected 1 gap in the manifest, got %d", len(result.Gaps))
	}
	if result.Gaps[0].Filled {
		t.Error("oversized gap must not be marked filled")
	}
}

func TestCleanTracesManifestWithoutMerge(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 0),
		segment(base.Add(15*time.Second), 1, constSamples(5, 2), 1),
	}

	result := CleanTraces(traces, CleanupOptions{Merge: false})

	if len(result.Traces) != 2 {
		t.Fatalf("expected segments untouched, got %d traces", len(result.Traces))
	}
	if len(result.Gaps) != 1 {
		t.Errorf("gap manifest should be produced even without merge, got %d gaps", len(result.Gaps))
	}
}

func TestCleanTracesOverlapPrefersEarlierFetch(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	// 第二段先取回（FetchSeq 0），与第一段重叠 2 秒
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 1),
		segment(base.Add(8*time.Second), 1, constSamples(5, 2), 0),
	}

	result := CleanTraces(traces, CleanupOptions{Merge: true})

	if len(result.Traces) != 1 {
		t.Fatalf("expected 1 merged trace, got %d", len(result.Traces))
	}
	merged := result.Traces[0]
	if len(merged.Samples) != 13 {
		t.Fatalf("expected 13 samples after overlap merge, got %d", len(merged.Samples))
	}
	// 重叠的两个采样点来自先取回的第二段
	if merged.Samples[8] != 2 || merged.Samples[9] != 2 {
		t.Errorf("overlap region should keep earlier-fetched samples, got %v / %v",
			merged.Samples[8], merged.Samples[9])
	}
	if merged.Samples[7] != 1 {
		t.Errorf("samples before the overlap disturbed: %v", merged.Samples[7])
	}

	if len(result.Overlaps) != 1 {
		t.Fatalf("expected 1 overlap in the manifest, got %d", len(result.Overlaps))
	}
	if math.Abs(result.Overlaps[0].DurationSec+2) > 1e-9 {
		t.Errorf("expected -2s overlap duration, got %v", result.Overlaps[0].DurationSec)
	}
}

func TestCleanTracesOverlapKeepsLaterFetchWhenEarlier(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	// 第一段先取回，重叠区间保持第一段的采样值
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 0),
		segment(base.Add(8*time.Second), 1, constSamples(5, 2), 1),
	}

	result := CleanTraces(traces, CleanupOptions{Merge: true})

	if len(result.Traces) != 1 {
		t.Fatalf("expected 1 merged trace, got %d", len(result.Traces))
	}
	merged := result.Traces[0]
	if merged.Samples[8] != 1 || merged.Samples[9] != 1 {
		t.Errorf("overlap region should keep earlier-fetched samples, got %v / %v",
			merged.Samples[8], merged.Samples[9])
	}
	if merged.Samples[10] != 2 {
		t.Errorf("samples after the overlap should come from the second segment, got %v", merged.Samples[10])
	}
}

func TestCleanTracesOverlapNestedSegment(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	// 先取回的第二段整体嵌在第一段内部，只覆盖中间区间
	traces := []models.Trace{
		segment(base, 1, constSamples(10, 1), 1),
		segment(base.Add(2*time.Second), 1, constSamples(5, 2), 0),
	}

	result := CleanTraces(traces, CleanupOptions{Merge: true})

	if len(result.Traces) != 1 {
		t.Fatalf("expected 1 merged trace, got %d", len(result.Traces))
	}
	merged := result.Traces[0]
	if len(merged.Samples) != 10 {
		t.Fatalf("nested segment must not extend the trace, got %d samples", len(merged.Samples))
	}
	want := []float64{1, 1, 2, 2, 2, 2, 2, 1, 1, 1}
	for i, v := range want {
		if merged.Samples[i] != v {
			t.Fatalf("sample %d: expected %v, got %v (full: %v)", i, v, merged.Samples[i], merged.Samples)
		}
	}
	if len(result.Overlaps) != 1 {
		t.Errorf("expected 1 overlap in the manifest, got %d", len(result.Overlaps))
	}
}

func TestCleanTracesGroupsByChannel(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	bhz := segment(base, 1, constSamples(5, 1), 0)
	bhn := segment(base, 1, constSamples(5, 1), 1)
	bhn.Channel = "BHN"

	result := CleanTraces([]models.Trace{bhz, bhn}, CleanupOptions{Merge: true})

	if len(result.Traces) != 2 {
		t.Fatalf("different channels must not merge, got %d traces", len(result.Traces))
	}
	if len(result.Gaps) != 0 || len(result.Overlaps) != 0 {
		t.Errorf("no gaps or overlaps expected across channels")
	}
}

func TestCleanTracesMismatchedRates(t *testing.T) {
	base := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	traces := []models.Trace{
		segment(base, 1, constSamples(5, 1), 0),
		segment(base.Add(5*time.Second), 2, constSamples(5, 2), 1),
	}

	result := CleanTraces(traces, CleanupOptions{Merge: true})

	if len(result.Traces) != 2 {
		t.Fatalf("mismatched sample rates must not merge, got %d traces", len(result.Traces))
	}
}
