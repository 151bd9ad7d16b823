package services

import (
	"encoding/json"
	"time"

	"fdsn-service/logger"
)

// Stage 流水线阶段
type Stage string

const (
	StageFederation Stage = "federation"
	StagePlanning   Stage = "planning"
	StageDownload   Stage = "download"
	StageCleanup    Stage = "cleanup"
)

// ProgressUpdate 描述一次进度变化，推送给所有订阅方
type ProgressUpdate struct {
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Status    string    `json:"status,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressSink 进度接收端的抽象接口
type ProgressSink interface {
	// Publish 推送一次进度更新，实现必须不阻塞调用方
	Publish(update ProgressUpdate)
}

// NopSink 丢弃所有进度更新
type NopSink struct{}

// Publish 实现 ProgressSink 接口
func (NopSink) Publish(ProgressUpdate) {}

// LogSink 将进度更新写入日志
type LogSink struct{}

// Publish 实现 ProgressSink 接口
func (LogSink) Publish(u ProgressUpdate) {
	if u.Unit != "" {
		logger.Printf("[Progress] stage=%s unit=%s status=%s (%d/%d)", u.Stage, u.Unit, u.Status, u.Completed, u.Total)
		return
	}
	logger.Printf("[Progress] stage=%s %s (%d/%d)", u.Stage, u.Message, u.Completed, u.Total)
}

// BrokerSink 将进度更新序列化为 JSON 后发布到消息 Broker，
// WebSocket 层和 AMQP 发布器都从 Broker 消费
type BrokerSink struct {
	broker MessageBroker
}

// NewBrokerSink 创建 BrokerSink 实例
func NewBrokerSink(broker MessageBroker) *BrokerSink {
	return &BrokerSink{broker: broker}
}

// Publish 实现 ProgressSink 接口
func (s *BrokerSink) Publish(u ProgressUpdate) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(u)
	if err != nil {
		logger.Errorf("[Progress] Failed to marshal update: %v", err)
		return
	}

	msg := BrokerMessage{
		Topic: GetTopicName(string(u.Stage)),
		Key:   u.Unit,
		Value: payload,
	}
	if err := s.broker.Produce(msg); err != nil {
		logger.Errorf("[Progress] Failed to produce update: %v", err)
	}
}

// MultiSink 将进度更新同时推送给多个接收端
type MultiSink []ProgressSink

// Publish 实现 ProgressSink 接口
func (m MultiSink) Publish(u ProgressUpdate) {
	for _, s := range m {
		s.Publish(u)
	}
}
