package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fdsn-service/config"
	"fdsn-service/database"
	"fdsn-service/fdsn"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/models"
	"fdsn-service/services"
	"fdsn-service/web"
)

func main() {
	log.Println("Starting FDSN Federation Service...")

	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	// 加载配置
	cfg := config.Load()

	// 连接数据库（可选，未配置时跳过归档）
	var archive *services.ArchiveService
	db, err := databaseConnect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
		archive = services.NewArchiveService(db, common.NewLogger("ArchiveService"))
		log.Println("Database connected and migrated")
	} else {
		log.Println("DATABASE_URL not set, archiving disabled")
	}

	// 数据中心注册表和客户端工厂
	registry := fdsn.NewRegistry()
	factory := services.NewClientFactory(registry, cfg)

	// 进度 Broker 和接收端
	broker := services.NewInMemoryBroker()
	sink := services.MultiSink{
		services.LogSink{},
		services.NewBrokerSink(broker),
	}

	// 业务服务
	stationService := services.NewStationService(factory, cfg, sink)
	eventService := services.NewEventService(factory, registry, cfg, sink)

	ttClient := fdsn.NewTravelTimeClient("", cfg.QueryTimeout)
	planner := services.NewDownloadPlanner(ttClient, registry, cfg, sink)
	executor := services.NewDownloadExecutor(factory, cfg, sink)

	// 项目会话和波形写出
	session, err := services.NewSession(cfg.ProjectDir)
	if err != nil {
		log.Fatalf("Failed to create project session: %v", err)
	}
	writer := services.NewWaveformWriter(session.WaveformDir())

	// 创建WebSocket Hub
	wsHub := web.NewHub()
	go wsHub.Run()
	go wsHub.RelayBroker(broker)

	// AMQP 进度发布（可选）
	var amqpPublisher *services.AMQPPublisher
	if cfg.AMQPURL != "" {
		amqpPublisher = services.NewAMQPPublisher(cfg)
		if err := amqpPublisher.Start(broker); err != nil {
			log.Printf("AMQP publisher error: %v", err)
			amqpPublisher = nil
		} else {
			log.Println("AMQP publisher started")
		}
	}

	// MQTT 地震速报监听（可选）：速报事件并入会话并推送给进度订阅方
	var alertListener *services.AlertListener
	if cfg.MQTTBroker != "" {
		alertListener = services.NewAlertListener(cfg, func(ev models.Event) {
			session.SetEvents(append(session.Events(), ev))
			sink.Publish(services.ProgressUpdate{
				Stage:   services.StageFederation,
				Message: fmt.Sprintf("event alert: %s M%.1f", ev.ID, ev.Magnitude.Value),
			})
		})
		if err := alertListener.Start(); err != nil {
			log.Printf("Alert listener error: %v", err)
			alertListener = nil
		} else {
			log.Println("Alert listener started")
		}
	}

	// 启动Web服务器
	server := web.NewServer(cfg, db, wsHub, web.Services{
		Stations: stationService,
		Events:   eventService,
		Planner:  planner,
		Executor: executor,
		Archive:  archive,
		Session:  session,
		Writer:   writer,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	log.Printf("Web server started on port %s", cfg.Port)
	log.Println("Service is running. Press Ctrl+C to stop.")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down service...")

	// 清理资源
	if alertListener != nil {
		alertListener.Stop()
	}
	if amqpPublisher != nil {
		amqpPublisher.Stop()
	}
	server.Stop()
	broker.Close()

	log.Println("Service stopped")
}

// databaseConnect 连接并迁移数据库，未配置 DATABASE_URL 时返回 nil
func databaseConnect(cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
