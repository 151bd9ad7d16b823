package services

import (
	"sync"

	"fdsn-service/logger"
)

// InMemoryBroker 是 MessageBroker 接口的内存实现，单进程部署时无需外部消息队列
type InMemoryBroker struct {
	// 存储每个 Topic 对应的消费者通道列表
	consumers map[string][]chan BrokerMessage
	mu        sync.RWMutex
	closed    bool
}

// NewInMemoryBroker 创建 InMemoryBroker 实例
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		consumers: make(map[string][]chan BrokerMessage),
	}
}

// Produce 实现 MessageBroker 接口。进度消息按发布/订阅语义广播给
// 该 Topic 的所有消费者
func (b *InMemoryBroker) Produce(msg BrokerMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	consumerChans, ok := b.consumers[msg.Topic]
	if !ok || len(consumerChans) == 0 {
		// 没有订阅者时直接丢弃，进度消息不需要持久化
		return nil
	}

	for _, ch := range consumerChans {
		// 使用 select 避免阻塞下载流水线，通道满了则丢弃该消费者的这条消息
		select {
		case ch <- msg:
		default:
			logger.Warnf("[InMemoryBroker] Topic %s consumer channel full. Message dropped.", msg.Topic)
		}
	}

	return nil
}

// Consume 实现 MessageBroker 接口
func (b *InMemoryBroker) Consume(topic string) (<-chan BrokerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 创建一个新的通道作为消费者的消息队列
	consumerChan := make(chan BrokerMessage, 1000)

	b.consumers[topic] = append(b.consumers[topic], consumerChan)

	logger.Printf("[InMemoryBroker] Consumer subscribed to topic %s. Total consumers for topic: %d", topic, len(b.consumers[topic]))

	return consumerChan, nil
}

// Close 实现 MessageBroker 接口
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	// 关闭所有消费者通道
	for _, chans := range b.consumers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.consumers = make(map[string][]chan BrokerMessage)

	logger.Println("[InMemoryBroker] Closed all channels.")
	return nil
}
