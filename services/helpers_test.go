package services

import (
	"context"
	"sync"
	"time"

	"fdsn-service/config"
	"fdsn-service/fdsn"
	"fdsn-service/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultProvider: "IRIS",
		QueryTimeout:    time.Second,
		QueryRetries:    2,
		QueryBackoff:    time.Millisecond,

		DownloadWorkers: 2,
		DownloadRetries: 3,
		RetryDelay:      time.Millisecond,
		ChunkSize:       10,
		PrimaryPhase:    "P",
		VelocityModel:   "iasp91",

		EventDedupTimeSec: 10.0,
		EventDedupDistDeg: 0.5,
		EventDedupMag:     0.5,
	}
}

// fakeClient 满足 ProviderClient 接口的测试替身
type fakeClient struct {
	id   string
	bulk bool

	stations   []models.Station
	stationErr error
	events     []models.Event
	eventErr   error

	fetchBulk   func(reqs []models.DownloadRequest) ([]models.Trace, error)
	fetchSingle func(req models.DownloadRequest) ([]models.Trace, error)

	mu          sync.Mutex
	bulkCalls   int
	singleCalls map[string]int
}

func (f *fakeClient) ID() string         { return f.id }
func (f *fakeClient) SupportsBulk() bool { return f.bulk }

func (f *fakeClient) QueryStations(ctx context.Context, q fdsn.StationQuery) ([]models.Station, error) {
	return f.stations, f.stationErr
}

func (f *fakeClient) QueryEvents(ctx context.Context, q fdsn.EventQuery) ([]models.Event, error) {
	return f.events, f.eventErr
}

func (f *fakeClient) FetchBulk(ctx context.Context, reqs []models.DownloadRequest) ([]models.Trace, error) {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()
	if f.fetchBulk == nil {
		return nil, nil
	}
	return f.fetchBulk(reqs)
}

func (f *fakeClient) FetchSingle(ctx context.Context, req models.DownloadRequest) ([]models.Trace, error) {
	f.mu.Lock()
	if f.singleCalls == nil {
		f.singleCalls = make(map[string]int)
	}
	f.singleCalls[req.TraceKey()]++
	f.mu.Unlock()
	if f.fetchSingle == nil {
		return []models.Trace{traceFor(req)}, nil
	}
	return f.fetchSingle(req)
}

func (f *fakeClient) calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.singleCalls[key]
}

func traceFor(req models.DownloadRequest) models.Trace {
	return models.Trace{
		Network:    req.Network,
		Station:    req.Station,
		Location:   req.Location,
		Channel:    req.Channel,
		EventID:    req.EventID,
		SampleRate: 20.0,
		Start:      req.Start,
		Samples:    []float64{1, 2, 3},
	}
}

func fakeFactory(clients map[string]*fakeClient) ClientFactory {
	return func(providerID string) (ProviderClient, bool) {
		c, ok := clients[providerID]
		return c, ok
	}
}

// fakeOracle 固定走时的到时替身
type fakeOracle struct {
	offset float64
	ok     bool
	err    error
}

func (o *fakeOracle) Arrival(ctx context.Context, phase, model string, distanceDeg, depthKm float64) (fdsn.Arrival, bool, error) {
	return fdsn.Arrival{Phase: phase, TimeOffsetSec: o.offset}, o.ok, o.err
}
