package services

import (
	"context"
	"errors"
	"time"

	"fdsn-service/fdsn"
	"fdsn-service/logger"
	"fdsn-service/pkg/common"
)

// classifyError 将底层错误归类为失败类型，决定是否值得重试。
// 客户端实现可以直接返回 common 包的哨兵错误来指定类别
func classifyError(err error) common.FailureKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, common.ErrCancelled):
		return common.KindCancelled
	case errors.Is(err, common.ErrProviderRejected):
		return common.KindProviderRejected
	case errors.Is(err, common.ErrProviderUnavailable):
		return common.KindProviderUnavailable
	case errors.Is(err, common.ErrNoArrivalComputable):
		return common.KindNoArrival
	case errors.Is(err, common.ErrChannelUnavailable):
		return common.KindChannelUnavailable
	case errors.Is(err, common.ErrBatchFailed):
		return common.KindBatchFailed
	}

	var apiErr *fdsn.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return common.KindProviderUnavailable
		}
		return common.KindProviderRejected
	}

	// 超时与网络层错误视为临时不可用
	return common.KindProviderUnavailable
}

// withRetry 执行 fn，仅对临时性失败按指数退避重试，最多 attempts 次。
// 返回最后一次错误及实际尝试次数。
func withRetry(ctx context.Context, attempts int, backoff time.Duration, label string, fn func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		kind := classifyError(lastErr)
		if !kind.IsTransient() || attempt == attempts {
			return attempt, lastErr
		}

		delay := backoff * time.Duration(1<<(attempt-1))
		logger.Printf("[Retry] %s attempt %d/%d failed: %v, retrying in %v", label, attempt, attempts, lastErr, delay)

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
	}

	return attempts, lastErr
}
