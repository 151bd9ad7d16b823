package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fdsn-service/fdsn"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/models"
)

func makeRequests(n int, provider string) []models.DownloadRequest {
	reqs := make([]models.DownloadRequest, n)
	base := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range reqs {
		reqs[i] = models.DownloadRequest{
			Network:  "IU",
			Station:  fmt.Sprintf("STA%d", i+1),
			Location: "00",
			Channel:  "BHZ",
			EventID:  "ev1",
			Start:    base,
			End:      base.Add(2 * time.Minute),
			Provider: provider,
		}
	}
	return reqs
}

func TestExecuteBulkSuccess(t *testing.T) {
	reqs := makeRequests(3, "IRIS")
	client := &fakeClient{id: "IRIS", bulk: true, fetchBulk: func(reqs []models.DownloadRequest) ([]models.Trace, error) {
		traces := make([]models.Trace, len(reqs))
		for i, r := range reqs {
			traces[i] = traceFor(r)
		}
		return traces, nil
	}}

	plan := &DownloadPlan{
		Batches:       []models.BulkBatch{{Provider: "IRIS", Requests: reqs}},
		TotalRequests: 3,
	}

	exec := NewDownloadExecutor(fakeFactory(map[string]*fakeClient{"IRIS": client}), testConfig(), nil)
	outcome := exec.Execute(context.Background(), plan)

	if len(outcome.Traces) != 3 {
		t.Errorf("Expected 3 traces, got %d", len(outcome.Traces))
	}
	if len(outcome.Failures) != 0 {
		t.Errorf("Expected no failures, got %v", outcome.Failures)
	}
	if outcome.Completed != 3 || outcome.Requested != 3 {
		t.Errorf("Expected 3/3 completed, got %d/%d", outcome.Completed, outcome.Requested)
	}
}

// 整批失败回退为逐条请求：10 条请求中 1 条坏请求，仍要拿回 9 条轨迹
func TestExecuteBatchFallback(t *testing.T) {
	reqs := makeRequests(10, "IRIS")
	client := &fakeClient{
		id:   "IRIS",
		bulk: true,
		fetchBulk: func([]models.DownloadRequest) ([]models.Trace, error) {
			return nil, &fdsn.APIError{StatusCode: 400, Message: "bad request"}
		},
		fetchSingle: func(req models.DownloadRequest) ([]models.Trace, error) {
			if req.Station == "STA5" {
				return nil, &fdsn.APIError{StatusCode: 404, Message: "not found"}
			}
			return []models.Trace{traceFor(req)}, nil
		},
	}

	plan := &DownloadPlan{
		Batches:       []models.BulkBatch{{Provider: "IRIS", Requests: reqs}},
		TotalRequests: 10,
	}

	exec := NewDownloadExecutor(fakeFactory(map[string]*fakeClient{"IRIS": client}), testConfig(), nil)
	outcome := exec.Execute(context.Background(), plan)

	if len(outcome.Traces) != 9 {
		t.Fatalf("Expected 9 traces from fallback, got %d", len(outcome.Traces))
	}
	if len(outcome.Failures) != 1 {
		t.Fatalf("Expected exactly 1 failure, got %d", len(outcome.Failures))
	}

	failure := outcome.Failures[0]
	if failure.Request == nil || failure.Request.Station != "STA5" {
		t.Errorf("Expected failure attributed to STA5, got %+v", failure)
	}
	if failure.Kind != string(common.KindProviderRejected) {
		t.Errorf("Expected non-transient failure kind, got %s", failure.Kind)
	}
	if outcome.Completed != 9 {
		t.Errorf("Expected 9 completed requests, got %d", outcome.Completed)
	}
}

// 持续瞬时失败的请求重试满 max_retries 次后终态 Failed
func TestExecuteRetryExhaustion(t *testing.T) {
	reqs := makeRequests(1, "IRIS")
	client := &fakeClient{
		id: "IRIS",
		fetchSingle: func(models.DownloadRequest) ([]models.Trace, error) {
			return nil, &fdsn.APIError{StatusCode: 503, Message: "unavailable"}
		},
	}

	plan := &DownloadPlan{Singles: reqs, TotalRequests: 1}

	cfg := testConfig()
	cfg.DownloadRetries = 3

	exec := NewDownloadExecutor(fakeFactory(map[string]*fakeClient{"IRIS": client}), cfg, nil)
	outcome := exec.Execute(context.Background(), plan)

	if got := client.calls("IU.STA1.00.BHZ"); got != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", got)
	}
	if len(outcome.Failures) != 1 {
		t.Fatalf("Expected 1 terminal failure, got %d", len(outcome.Failures))
	}
	failure := outcome.Failures[0]
	if failure.Kind != string(common.KindProviderUnavailable) {
		t.Errorf("Expected Failed(ProviderUnavailable), got %s", failure.Kind)
	}
	if failure.Attempts != 3 {
		t.Errorf("Expected 3 recorded attempts, got %d", failure.Attempts)
	}
}

// 取消后已完成的轨迹保留，剩余单元标记为取消而不是失败
func TestExecuteCancellation(t *testing.T) {
	reqs := makeRequests(10, "IRIS")

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	completed := 0

	client := &fakeClient{
		id: "IRIS",
		fetchSingle: func(req models.DownloadRequest) ([]models.Trace, error) {
			mu.Lock()
			completed++
			if completed == 3 {
				cancel()
			}
			mu.Unlock()
			return []models.Trace{traceFor(req)}, nil
		},
	}

	plan := &DownloadPlan{Singles: reqs, TotalRequests: 10}

	cfg := testConfig()
	cfg.DownloadWorkers = 1

	exec := NewDownloadExecutor(fakeFactory(map[string]*fakeClient{"IRIS": client}), cfg, nil)
	outcome := exec.Execute(ctx, plan)

	if !outcome.Cancelled {
		t.Error("Expected outcome to be marked cancelled")
	}
	if len(outcome.Traces) != 3 {
		t.Errorf("Expected 3 completed traces preserved, got %d", len(outcome.Traces))
	}
	// 取消是终态不是错误，被放弃的单元不进失败列表
	if len(outcome.Failures) != 0 {
		t.Errorf("Expected no failures on cancellation, got %v", outcome.Failures)
	}
	if len(outcome.Abandoned) != 7 {
		t.Fatalf("Expected 7 abandoned units, got %d", len(outcome.Abandoned))
	}
	for _, f := range outcome.Abandoned {
		if f.Kind != string(common.KindCancelled) {
			t.Errorf("Expected cancelled status, got %s for %s", f.Kind, f.Request.Station)
		}
	}
}

// 进度事件按完成顺序推送，最后一个计数等于单元总数
func TestExecuteProgress(t *testing.T) {
	reqs := makeRequests(4, "IRIS")
	client := &fakeClient{id: "IRIS"}

	sink := &recordingSink{}
	plan := &DownloadPlan{Singles: reqs, TotalRequests: 4}

	exec := NewDownloadExecutor(fakeFactory(map[string]*fakeClient{"IRIS": client}), testConfig(), sink)
	exec.Execute(context.Background(), plan)

	updates := sink.updates()
	if len(updates) != 4 {
		t.Fatalf("Expected 4 progress updates, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.Completed != 4 || last.Total != 4 {
		t.Errorf("Expected final progress 4/4, got %d/%d", last.Completed, last.Total)
	}
	for _, u := range updates {
		if u.Stage != StageDownload {
			t.Errorf("Expected download stage, got %s", u.Stage)
		}
	}
}

// recordingSink 记录所有进度更新
type recordingSink struct {
	mu  sync.Mutex
	got []ProgressUpdate
}

func (s *recordingSink) Publish(u ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, u)
}

func (s *recordingSink) updates() []ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressUpdate(nil), s.got...)
}
