package services

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"fdsn-service/config"
	"fdsn-service/logger"
)

// AMQPPublisher 将 Broker 中的进度消息转发到外部 AMQP 交换机，
// 供其他服务订阅下载进度
type AMQPPublisher struct {
	config  *config.Config
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan bool
}

// NewAMQPPublisher 创建 AMQPPublisher 实例
func NewAMQPPublisher(cfg *config.Config) *AMQPPublisher {
	return &AMQPPublisher{
		config: cfg,
		done:   make(chan bool),
	}
}

// Start 建立 AMQP 连接，声明交换机，并开始把各阶段的进度消息转发出去
func (p *AMQPPublisher) Start(broker MessageBroker) error {
	if p.config.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is not configured")
	}

	logger.Printf("Connecting to AMQP at %s...", p.config.AMQPURL)

	conn, err := amqp.DialConfig(p.config.AMQPURL, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}
	p.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	p.channel = channel

	// 交换机按阶段路由，routing key 即 Broker 的 Topic 名称
	if err := channel.ExchangeDeclare(
		p.config.AMQPExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Printf("Exchange declared: %s", p.config.AMQPExchange)

	stages := []Stage{StageFederation, StagePlanning, StageDownload, StageCleanup}
	for _, stage := range stages {
		topic := GetTopicName(string(stage))
		msgs, err := broker.Consume(topic)
		if err != nil {
			return fmt.Errorf("failed to consume topic %s: %w", topic, err)
		}
		go p.forward(topic, msgs)
	}

	logger.Println("[AMQPPublisher] Started forwarding progress messages")
	return nil
}

// forward 单个 Topic 的转发循环
func (p *AMQPPublisher) forward(topic string, msgs <-chan BrokerMessage) {
	for {
		select {
		case <-p.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			err := p.channel.Publish(
				p.config.AMQPExchange,
				msg.Topic, // routing key
				false,     // mandatory
				false,     // immediate
				amqp.Publishing{
					ContentType: "application/json",
					MessageId:   msg.Key,
					Timestamp:   time.Now(),
					Body:        msg.Value,
				},
			)
			if err != nil {
				logger.Errorf("[AMQPPublisher] Failed to publish to %s: %v", topic, err)
			}
		}
	}
}

// Stop 关闭连接
func (p *AMQPPublisher) Stop() {
	logger.Println("Stopping AMQP publisher...")
	close(p.done)
	if p.conn != nil {
		p.conn.Close()
	}
}
