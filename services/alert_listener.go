package services

import (
	"fmt"

	"fdsn-service/config"
	"fdsn-service/fdsn"
	"fdsn-service/logger"
	"fdsn-service/pkg/models"
)

// AlertListener 订阅实时地震速报，把速报归一化为共享事件模型后交给
// 回调处理。速报是初步解，字段可能与最终目录不一致
type AlertListener struct {
	client  *fdsn.AlertClient
	cfg     *config.Config
	onEvent func(models.Event)
}

// NewAlertListener 创建 AlertListener 实例
func NewAlertListener(cfg *config.Config, onEvent func(models.Event)) *AlertListener {
	return &AlertListener{
		client:  fdsn.NewAlertClient(cfg.MQTTBroker, cfg.MQTTUsername, cfg.MQTTPassword),
		cfg:     cfg,
		onEvent: onEvent,
	}
}

// Start 连接速报服务并订阅配置的主题
func (l *AlertListener) Start() error {
	if l.cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	if err := l.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect alert broker: %w", err)
	}

	l.client.OnAlert("*", l.handleAlert)
	if err := l.client.Subscribe(l.cfg.MQTTTopic, fdsn.QoSAtLeastOnce); err != nil {
		return err
	}

	logger.Printf("[AlertListener] Subscribed to %s", l.cfg.MQTTTopic)
	return nil
}

// Stop 断开速报连接
func (l *AlertListener) Stop() {
	l.client.Disconnect()
	logger.Println("[AlertListener] Stopped")
}

func (l *AlertListener) handleAlert(topic string, payload []byte) {
	alert, err := fdsn.ParseEventAlert(payload)
	if err != nil {
		logger.Warnf("[AlertListener] Dropping malformed alert on %s: %v", topic, err)
		return
	}

	event := models.Event{
		ID:        alert.EventID,
		Time:      alert.Time,
		Latitude:  alert.Latitude,
		Longitude: alert.Longitude,
		DepthKm:   alert.DepthKm,
		Magnitude: models.Magnitude{Type: alert.MagType, Value: alert.Magnitude, Author: alert.Agency},
		Provider:  alert.Agency,
	}

	logger.Printf("[AlertListener] Event alert: %s", event.String())
	if l.onEvent != nil {
		l.onEvent(event)
	}
}
