package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fdsn-service/fdsn"
	"fdsn-service/pkg/common"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want common.FailureKind
	}{
		{context.Canceled, common.KindCancelled},
		{&fdsn.APIError{StatusCode: 503, Message: "x"}, common.KindProviderUnavailable},
		{&fdsn.APIError{StatusCode: 400, Message: "x"}, common.KindProviderRejected},
		{fmt.Errorf("connection reset"), common.KindProviderUnavailable},
	}

	for _, c := range cases {
		if got := classifyError(c.err); got != c.want {
			t.Errorf("classifyError(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

// 客户端实现可以用哨兵错误直接指定失败类别
func TestClassifySentinelErrors(t *testing.T) {
	cases := []struct {
		err  error
		want common.FailureKind
	}{
		{common.ErrProviderUnavailable, common.KindProviderUnavailable},
		{common.ErrProviderRejected, common.KindProviderRejected},
		{common.ErrNoArrivalComputable, common.KindNoArrival},
		{common.ErrChannelUnavailable, common.KindChannelUnavailable},
		{common.ErrBatchFailed, common.KindBatchFailed},
		{common.ErrCancelled, common.KindCancelled},
	}

	for _, c := range cases {
		wrapped := fmt.Errorf("provider xyz: %w", c.err)
		if got := classifyError(wrapped); got != c.want {
			t.Errorf("classifyError(%v) = %s, want %s", wrapped, got, c.want)
		}
	}
}

func TestWithRetryStopsOnRejection(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 3, time.Millisecond, "test", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("bad request: %w", common.ErrProviderRejected)
	})

	if calls != 1 || attempts != 1 {
		t.Errorf("Expected a single attempt for a non-transient error, got %d calls / %d attempts", calls, attempts)
	}
	if err == nil {
		t.Fatal("Expected the error to surface")
	}
	if classifyError(err) != common.KindProviderRejected {
		t.Errorf("Expected rejected kind, got %s", classifyError(err))
	}
}

func TestWithRetryTransientExhaustion(t *testing.T) {
	calls := 0
	attempts, err := withRetry(context.Background(), 3, time.Millisecond, "test", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("flaky: %w", common.ErrProviderUnavailable)
	})

	if calls != 3 || attempts != 3 {
		t.Errorf("Expected 3 attempts for a transient error, got %d calls / %d attempts", calls, attempts)
	}
	if err == nil {
		t.Fatal("Expected the last error to surface")
	}
}
