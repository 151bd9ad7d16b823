package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// 数据中心配置
	Providers       []string      // 启用的 FDSN 数据中心列表
	DefaultProvider string        // 未指定路由时使用的数据中心
	QueryTimeout    time.Duration // 单个数据中心查询超时
	QueryRetries    int           // 元数据查询最大重试次数
	QueryBackoff    time.Duration // 重试退避基准时间（指数退避）

	// 下载配置
	DownloadWorkers  int           // 下载 worker 数量
	DownloadRetries  int           // 单个下载单元最大重试次数
	RetryDelay       time.Duration // 下载重试延迟基准
	ChunkSize        int           // 批量下载每批请求数
	BulkDownload     bool          // 是否启用批量下载
	TimeBefore       float64       // P 波到时前的时间窗（秒）
	TimeAfter        float64       // P 波到时后的时间窗（秒）
	Channels         string        // 请求的通道（逗号分隔，支持 BH? 通配）
	LocationCode     string        // 位置码
	VelocityModel    string        // 走时计算速度模型
	PrimaryPhase     string        // 时间窗对齐的主震相

	// 事件去重容差（经验值，可调，见 DESIGN.md）
	EventDedupTimeSec  float64 // 发震时刻容差（秒）
	EventDedupDistDeg  float64 // 震中距离容差（度）
	EventDedupMag      float64 // 震级容差

	// 清理配置
	CleanupMerge  bool    // 下载后是否合并分段
	FillValue     float64 // 缺口填充值
	MaxGapSeconds float64 // 可填充的最大缺口长度（秒）

	// 数据库配置
	DatabaseURL string

	// 服务器配置
	Port string

	// AMQP 进度事件发布配置（可选）
	AMQPURL      string
	AMQPExchange string

	// MQTT 实时事件告警订阅配置（可选）
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// FDSN 认证（受限数据）
	FDSNUsername string
	FDSNPassword string

	// 项目目录
	ProjectDir string

	// 其他配置
	Environment string
}

func Load() *Config {
	return &Config{
		// 数据中心配置
		Providers:       getList("FDSN_PROVIDERS", "IRIS,USGS,GFZ,ORFEUS,INGV"),
		DefaultProvider: getEnv("FDSN_DEFAULT_PROVIDER", "IRIS"),
		QueryTimeout:    getDuration("QUERY_TIMEOUT", 60*time.Second),
		QueryRetries:    getInt("QUERY_RETRIES", 3),
		QueryBackoff:    getDuration("QUERY_BACKOFF", time.Second),

		// 下载配置
		DownloadWorkers: getInt("DOWNLOAD_WORKERS", 4),
		DownloadRetries: getInt("DOWNLOAD_RETRIES", 3),
		RetryDelay:      getDuration("RETRY_DELAY", 2*time.Second),
		ChunkSize:       getInt("CHUNK_SIZE", 50),
		BulkDownload:    getEnv("BULK_DOWNLOAD", "true") == "true",
		TimeBefore:      getFloat("TIME_BEFORE", 10.0),
		TimeAfter:       getFloat("TIME_AFTER", 120.0),
		Channels:        getEnv("CHANNELS", "BH?"),
		LocationCode:    getEnv("LOCATION_CODE", "*"),
		VelocityModel:   getEnv("VELOCITY_MODEL", "iasp91"),
		PrimaryPhase:    getEnv("PRIMARY_PHASE", "P"),

		// 事件去重容差
		EventDedupTimeSec: getFloat("EVENT_DEDUP_TIME_SEC", 10.0),
		EventDedupDistDeg: getFloat("EVENT_DEDUP_DIST_DEG", 0.5),
		EventDedupMag:     getFloat("EVENT_DEDUP_MAG", 0.5),

		// 清理配置
		CleanupMerge:  getEnv("CLEANUP_MERGE", "true") == "true",
		FillValue:     getFloat("FILL_VALUE", 0.0),
		MaxGapSeconds: getFloat("MAX_GAP_SECONDS", 10.0),

		// 数据库配置
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/fdsn?sslmode=disable"),

		// 服务器配置
		Port: getEnv("PORT", "8080"),

		// AMQP 配置
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fdsn.progress"),

		// MQTT 配置
		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "event/alert/#"),

		// FDSN 认证
		FDSNUsername: getEnv("FDSN_USERNAME", ""),
		FDSNPassword: getEnv("FDSN_PASSWORD", ""),

		// 项目目录
		ProjectDir: getEnv("PROJECT_DIR", "./project"),

		// 其他配置
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(value, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
