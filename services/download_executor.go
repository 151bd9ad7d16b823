package services

import (
	"context"
	"fmt"
	"sync"

	"fdsn-service/config"
	"fdsn-service/logger"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/models"
)

// DownloadExecutor 以固定大小的 worker 池执行下载规划。批量批次是
// 原子工作单元，整批失败时回退为逐条请求，单个坏台站不会拖垮整批。
// 取消在工作单元边界协作检查，已完成的轨迹保留在结果中
type DownloadExecutor struct {
	factory ClientFactory
	cfg     *config.Config
	sink    ProgressSink
}

// NewDownloadExecutor 创建 DownloadExecutor 实例
func NewDownloadExecutor(factory ClientFactory, cfg *config.Config, sink ProgressSink) *DownloadExecutor {
	if sink == nil {
		sink = NopSink{}
	}
	return &DownloadExecutor{factory: factory, cfg: cfg, sink: sink}
}

// workUnit 一个下载工作单元：批量批次或单条请求
type workUnit struct {
	batch  *models.BulkBatch
	single *models.DownloadRequest
}

func (u *workUnit) label() string {
	if u.batch != nil {
		return fmt.Sprintf("batch %d (%s, %d requests)", u.batch.ChunkIndex, u.batch.Provider, len(u.batch.Requests))
	}
	return u.single.TraceKey()
}

// collector 收集各 worker 的结果，进度计数在这里统一维护。
// 取消的请求记入 abandoned 而不是 failures
type collector struct {
	mu        sync.Mutex
	traces    []models.Trace
	failures  []models.DownloadFailure
	abandoned []models.DownloadFailure
	completed int
	done      int
	total     int
	cancelled bool
	sink      ProgressSink
}

func (c *collector) finishUnit(u *workUnit, status models.UnitStatus, traces []models.Trace, failures, abandoned []models.DownloadFailure, completedReqs int) {
	c.mu.Lock()
	c.traces = append(c.traces, traces...)
	c.failures = append(c.failures, failures...)
	c.abandoned = append(c.abandoned, abandoned...)
	c.completed += completedReqs
	c.done++
	done, total := c.done, c.total
	c.mu.Unlock()

	c.sink.Publish(ProgressUpdate{
		Stage:     StageDownload,
		Unit:      u.label(),
		Status:    string(status),
		Completed: done,
		Total:     total,
	})
}

// Execute 执行下载规划，返回所有成功的轨迹和可归因的失败记录。
// 部分成功是常态：单元失败不会中断执行，只有取消会放弃剩余单元
func (e *DownloadExecutor) Execute(ctx context.Context, plan *DownloadPlan) *models.DownloadOutcome {
	units := make([]workUnit, 0, plan.Units())
	for i := range plan.Batches {
		units = append(units, workUnit{batch: &plan.Batches[i]})
	}
	for i := range plan.Singles {
		units = append(units, workUnit{single: &plan.Singles[i]})
	}

	col := &collector{total: len(units), sink: e.sink}

	workers := e.cfg.DownloadWorkers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan *workUnit)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				// 取消只在单元边界检查，不打断进行中的传输
				select {
				case <-ctx.Done():
					e.cancelUnit(unit, col)
					continue
				default:
				}
				e.runUnit(ctx, unit, col)
			}
		}()
	}

	for i := range units {
		jobs <- &units[i]
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		col.cancelled = true
	}

	outcome := &models.DownloadOutcome{
		Traces:    col.traces,
		Failures:  col.failures,
		Abandoned: col.abandoned,
		Cancelled: col.cancelled,
		Requested: plan.TotalRequests,
		Completed: col.completed,
	}
	logger.Printf("[DownloadExecutor] Done: %d traces, %d/%d requests completed, %d failures, %d abandoned, cancelled=%v",
		len(outcome.Traces), outcome.Completed, outcome.Requested, len(outcome.Failures), len(outcome.Abandoned), outcome.Cancelled)
	return outcome
}

// cancelUnit 将未开始的单元标记为取消。取消不是失败，但仍然逐条记录
// 以便上层展示哪些请求被放弃
func (e *DownloadExecutor) cancelUnit(u *workUnit, col *collector) {
	col.mu.Lock()
	col.cancelled = true
	col.mu.Unlock()

	var abandoned []models.DownloadFailure
	if u.batch != nil {
		for i := range u.batch.Requests {
			req := u.batch.Requests[i]
			abandoned = append(abandoned, models.DownloadFailure{
				Request:  &req,
				Provider: u.batch.Provider,
				EventID:  req.EventID,
				Batch:    u.batch.ChunkIndex,
				Kind:     string(common.KindCancelled),
				Message:  "cancelled before start",
			})
		}
	} else {
		abandoned = append(abandoned, models.DownloadFailure{
			Request:  u.single,
			Provider: u.single.Provider,
			EventID:  u.single.EventID,
			Kind:     string(common.KindCancelled),
			Message:  "cancelled before start",
		})
	}
	col.finishUnit(u, models.UnitCancelled, nil, nil, abandoned, 0)
}

func (e *DownloadExecutor) runUnit(ctx context.Context, u *workUnit, col *collector) {
	if u.batch != nil {
		e.runBatch(ctx, u, col)
		return
	}
	e.runSingle(ctx, u, col)
}

// runBatch 尝试整批下载，整批失败后回退为逐条请求
func (e *DownloadExecutor) runBatch(ctx context.Context, u *workUnit, col *collector) {
	batch := u.batch
	client, ok := e.factory(batch.Provider)
	if !ok {
		col.finishUnit(u, models.UnitFailed, nil, batchFailures(batch, common.KindProviderRejected, "unknown provider", 0), nil, 0)
		return
	}

	var traces []models.Trace
	attempts, err := withRetry(ctx, e.cfg.DownloadRetries, e.cfg.RetryDelay, u.label(), func(ctx context.Context) error {
		var ferr error
		traces, ferr = client.FetchBulk(ctx, batch.Requests)
		return ferr
	})
	if err == nil {
		col.finishUnit(u, models.UnitSucceeded, traces, nil, nil, len(batch.Requests))
		return
	}

	logger.Warnf("[DownloadExecutor] Batch %d (%s) failed after %d attempts: %v. Falling back to per-item requests.",
		batch.ChunkIndex, batch.Provider, attempts, err)

	// 整批失败回退：批内逐条请求，坏请求单独记录，好请求照常返回
	var itemTraces []models.Trace
	var failures, abandoned []models.DownloadFailure
	completedReqs := 0
	status := models.UnitFailed

	for i := range batch.Requests {
		req := batch.Requests[i]

		select {
		case <-ctx.Done():
			col.mu.Lock()
			col.cancelled = true
			col.mu.Unlock()
			abandoned = append(abandoned, models.DownloadFailure{
				Request:  &req,
				Provider: batch.Provider,
				EventID:  req.EventID,
				Batch:    batch.ChunkIndex,
				Kind:     string(common.KindCancelled),
				Message:  "cancelled during batch fallback",
			})
			continue
		default:
		}

		var reqTraces []models.Trace
		itemAttempts, ierr := withRetry(ctx, e.cfg.DownloadRetries, e.cfg.RetryDelay, req.TraceKey(), func(ctx context.Context) error {
			var ferr error
			reqTraces, ferr = client.FetchSingle(ctx, req)
			return ferr
		})
		if ierr != nil {
			record := models.DownloadFailure{
				Request:  &req,
				Provider: batch.Provider,
				EventID:  req.EventID,
				Batch:    batch.ChunkIndex,
				Kind:     string(classifyError(ierr)),
				Message:  ierr.Error(),
				Attempts: itemAttempts,
			}
			if record.Kind == string(common.KindCancelled) {
				abandoned = append(abandoned, record)
			} else {
				failures = append(failures, record)
			}
			continue
		}
		itemTraces = append(itemTraces, reqTraces...)
		completedReqs++
	}

	if completedReqs > 0 {
		status = models.UnitSucceeded
	} else if len(failures) == 0 && len(abandoned) > 0 {
		status = models.UnitCancelled
	}
	col.finishUnit(u, status, itemTraces, failures, abandoned, completedReqs)
}

func (e *DownloadExecutor) runSingle(ctx context.Context, u *workUnit, col *collector) {
	req := u.single
	client, ok := e.factory(req.Provider)
	if !ok {
		col.finishUnit(u, models.UnitFailed, nil, []models.DownloadFailure{{
			Request:  req,
			Provider: req.Provider,
			EventID:  req.EventID,
			Kind:     string(common.KindProviderRejected),
			Message:  "unknown provider",
		}}, nil, 0)
		return
	}

	var traces []models.Trace
	attempts, err := withRetry(ctx, e.cfg.DownloadRetries, e.cfg.RetryDelay, u.label(), func(ctx context.Context) error {
		var ferr error
		traces, ferr = client.FetchSingle(ctx, *req)
		return ferr
	})
	if err != nil {
		record := models.DownloadFailure{
			Request:  req,
			Provider: req.Provider,
			EventID:  req.EventID,
			Kind:     string(classifyError(err)),
			Message:  err.Error(),
			Attempts: attempts,
		}
		if record.Kind == string(common.KindCancelled) {
			col.finishUnit(u, models.UnitCancelled, nil, nil, []models.DownloadFailure{record}, 0)
		} else {
			col.finishUnit(u, models.UnitFailed, nil, []models.DownloadFailure{record}, nil, 0)
		}
		return
	}
	col.finishUnit(u, models.UnitSucceeded, traces, nil, nil, 1)
}

func batchFailures(batch *models.BulkBatch, kind common.FailureKind, message string, attempts int) []models.DownloadFailure {
	failures := make([]models.DownloadFailure, 0, len(batch.Requests))
	for i := range batch.Requests {
		req := batch.Requests[i]
		failures = append(failures, models.DownloadFailure{
			Request:  &req,
			Provider: batch.Provider,
			EventID:  req.EventID,
			Batch:    batch.ChunkIndex,
			Kind:     string(kind),
			Message:  message,
			Attempts: attempts,
		})
	}
	return failures
}
