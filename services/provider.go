package services

import (
	"context"

	"fdsn-service/config"
	"fdsn-service/fdsn"
	"fdsn-service/pkg/models"
)

// ProviderClient 定义了联邦查询对单个数据中心客户端的能力要求
type ProviderClient interface {
	// ID 返回数据中心标识
	ID() string
	// SupportsBulk 返回该数据中心是否支持批量 dataselect 请求
	SupportsBulk() bool
	// QueryStations 查询台站元数据
	QueryStations(ctx context.Context, q fdsn.StationQuery) ([]models.Station, error)
	// QueryEvents 查询地震事件目录
	QueryEvents(ctx context.Context, q fdsn.EventQuery) ([]models.Event, error)
	// FetchBulk 批量下载波形数据
	FetchBulk(ctx context.Context, reqs []models.DownloadRequest) ([]models.Trace, error)
	// FetchSingle 下载单条波形数据
	FetchSingle(ctx context.Context, req models.DownloadRequest) ([]models.Trace, error)
}

// ClientFactory 根据数据中心 ID 创建客户端，便于测试时注入假实现
type ClientFactory func(providerID string) (ProviderClient, bool)

// NewClientFactory 基于注册表和配置构建默认的客户端工厂
func NewClientFactory(registry *fdsn.Registry, cfg *config.Config) ClientFactory {
	return func(providerID string) (ProviderClient, bool) {
		provider, ok := registry.Get(providerID)
		if !ok {
			return nil, false
		}
		return fdsn.NewClientWithConfig(fdsn.Config{
			Provider: provider,
			Timeout:  cfg.QueryTimeout,
			Username: cfg.FDSNUsername,
			Password: cfg.FDSNPassword,
		}), true
	}
}
