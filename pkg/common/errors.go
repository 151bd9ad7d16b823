package common

import "errors"

var (
	// ErrProviderUnavailable 数据中心暂时不可用（超时、连接被重置、5xx），可重试
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected 数据中心拒绝请求（参数错误、认证失败），不可重试
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrAllProvidersUnavailable 所有数据中心都失败（仅对单次查询致命）
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrNoArrivalComputable 震相走时无法计算（按台站-事件对跳过，非致命）
	ErrNoArrivalComputable = errors.New("no arrival computable")

	// ErrChannelUnavailable 台站没有匹配的通道（按台站-事件对跳过，非致命）
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrBatchFailed 批量下载整批失败（触发逐条回退）
	ErrBatchFailed = errors.New("bulk batch failed")

	// ErrCancelled 用户取消（终态，不算错误）
	ErrCancelled = errors.New("cancelled")

	// ErrNotFound 未找到错误
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 无效输入错误
	ErrInvalidInput = errors.New("invalid input")
)

// FailureKind 失败类别，决定是否可以重试
type FailureKind string

const (
	KindProviderUnavailable FailureKind = "provider_unavailable"
	KindProviderRejected    FailureKind = "provider_rejected"
	KindNoArrival           FailureKind = "no_arrival_computable"
	KindChannelUnavailable  FailureKind = "channel_unavailable"
	KindBatchFailed         FailureKind = "batch_failed"
	KindCancelled           FailureKind = "cancelled"
)

// IsTransient 判断失败类别是否为瞬时失败（允许重试）
func (k FailureKind) IsTransient() bool {
	return k == KindProviderUnavailable
}

// AppError 应用错误
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError 创建应用错误
func NewAppError(code string, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
