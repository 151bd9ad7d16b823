package services

import (
	"context"
	"testing"
	"time"

	"fdsn-service/fdsn"
	"fdsn-service/pkg/models"
)

func TestEventDedupTolerance(t *testing.T) {
	origin := time.Date(2010, 2, 27, 6, 34, 13, 0, time.UTC)

	iscEvent := models.Event{
		ID: "isc-1", Time: origin.Add(4 * time.Second),
		Latitude: -36.15, Longitude: -72.93, DepthKm: 28,
		Magnitude: models.Magnitude{Type: "MW", Value: 8.8},
		Provider:  "ISC",
		MomentTensors: []models.MomentTensor{
			{SourceCatalog: "ISC", ScalarMoment: 1.8e22},
		},
	}
	irisEvent := models.Event{
		ID: "iris-1", Time: origin,
		Latitude: -36.1485, Longitude: -72.9327, DepthKm: 28.1,
		Magnitude: models.Magnitude{Type: "MW", Value: 8.8},
		Provider:  "IRIS",
		MomentTensors: []models.MomentTensor{
			{SourceCatalog: "GCMT", ScalarMoment: 1.9e22},
		},
	}
	farEvent := models.Event{
		ID: "iris-2", Time: origin.Add(18 * time.Minute),
		Latitude: -37.77, Longitude: -75.04, DepthKm: 35,
		Magnitude: models.Magnitude{Type: "mb", Value: 6.2},
		Provider:  "IRIS",
	}

	svc := NewEventService(nil, fdsn.NewRegistry(), testConfig(), nil)
	merged := svc.deduplicate([]models.Event{iscEvent, irisEvent, farEvent})

	if len(merged) != 2 {
		t.Fatalf("Expected 2 events after dedup, got %d", len(merged))
	}

	// 首个事件应保留优先级更高的 IRIS 记录，矩张量取并集
	first := merged[0]
	if first.Provider != "IRIS" {
		t.Errorf("Expected higher-priority IRIS record kept, got %s", first.Provider)
	}
	if len(first.MomentTensors) != 2 {
		t.Errorf("Expected moment tensor union of 2 catalogs, got %d", len(first.MomentTensors))
	}
}

func TestEventDedupKeepsDistinctEvents(t *testing.T) {
	origin := time.Date(2011, 3, 11, 5, 46, 24, 0, time.UTC)

	a := models.Event{ID: "a", Time: origin, Latitude: 38.3, Longitude: 142.4, DepthKm: 29,
		Magnitude: models.Magnitude{Value: 9.1}, Provider: "IRIS"}
	// 时间接近但震级差超过容差
	b := models.Event{ID: "b", Time: origin.Add(3 * time.Second), Latitude: 38.3, Longitude: 142.4, DepthKm: 30,
		Magnitude: models.Magnitude{Value: 7.9}, Provider: "USGS"}

	svc := NewEventService(nil, fdsn.NewRegistry(), testConfig(), nil)
	merged := svc.deduplicate([]models.Event{a, b})
	if len(merged) != 2 {
		t.Errorf("Expected magnitude tolerance to keep both events, got %d", len(merged))
	}
}

func TestEventSearchDistanceFilter(t *testing.T) {
	origin := time.Date(2010, 2, 27, 6, 34, 13, 0, time.UTC)
	near := models.Event{ID: "near", Time: origin, Latitude: 1, Longitude: 0, DepthKm: 10,
		Magnitude: models.Magnitude{Value: 6.0}, Provider: "A"}
	far := models.Event{ID: "far", Time: origin.Add(time.Hour), Latitude: 0, Longitude: 120, DepthKm: 10,
		Magnitude: models.Magnitude{Value: 6.0}, Provider: "A"}

	clients := map[string]*fakeClient{
		"A": {id: "A", events: []models.Event{near, far}},
	}

	filters := testFilters()
	filters.Center = &models.Point{Latitude: 0, Longitude: 0}
	filters.MaxDistanceDeg = 90

	svc := NewEventService(fakeFactory(clients), fdsn.NewRegistry(), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A"}, filters)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Events) != 1 || result.Events[0].ID != "near" {
		t.Fatalf("Expected only the near event, got %v", result.Events)
	}
	if result.Events[0].DistanceDeg == nil {
		t.Error("Expected distance annotation on event")
	}
}

func TestEventSearchMagnitudeLowerBound(t *testing.T) {
	origin := time.Date(2015, 9, 16, 22, 54, 32, 0, time.UTC)
	weak := models.Event{ID: "weak", Time: origin, Latitude: -31.6, Longitude: -71.6, DepthKm: 20,
		Magnitude: models.Magnitude{Value: 4.1}, Provider: "A"}
	strong := models.Event{ID: "strong", Time: origin.Add(time.Hour), Latitude: -31.5, Longitude: -71.7, DepthKm: 22,
		Magnitude: models.Magnitude{Value: 8.3}, Provider: "A"}

	// 目录端不做震级过滤，两条都返回；下界应在本地兜底生效
	clients := map[string]*fakeClient{
		"A": {id: "A", events: []models.Event{weak, strong}},
	}

	filters := testFilters()
	filters.MinMagnitude = 5.5

	svc := NewEventService(fakeFactory(clients), fdsn.NewRegistry(), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A"}, filters)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Events) != 1 || result.Events[0].ID != "strong" {
		t.Fatalf("Expected only the strong event with a lower bound alone, got %v", result.Events)
	}
}

func TestSortEvents(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []models.Event{
		{ID: "a", Time: base.Add(time.Hour), Magnitude: models.Magnitude{Value: 5.0}, DepthKm: 100},
		{ID: "b", Time: base, Magnitude: models.Magnitude{Value: 7.0}, DepthKm: 10},
		{ID: "c", Time: base.Add(2 * time.Hour), Magnitude: models.Magnitude{Value: 6.0}, DepthKm: 50},
	}

	byMag := SortEvents(events, "magnitude", true)
	if byMag[0].ID != "b" || byMag[2].ID != "a" {
		t.Errorf("Unexpected magnitude order: %v %v %v", byMag[0].ID, byMag[1].ID, byMag[2].ID)
	}

	byTime := SortEvents(events, "time", false)
	if byTime[0].ID != "b" {
		t.Errorf("Expected earliest event first, got %s", byTime[0].ID)
	}

	// 输入不被修改
	if events[0].ID != "a" {
		t.Error("SortEvents mutated its input")
	}
}

func TestStatistics(t *testing.T) {
	d1, d2 := 30.0, 60.0
	events := []models.Event{
		{Magnitude: models.Magnitude{Value: 5.0}, DistanceDeg: &d1},
		{Magnitude: models.Magnitude{Value: 7.0}, DistanceDeg: &d2},
	}

	stats := Statistics(events)
	if stats.Count != 2 {
		t.Fatalf("Expected count 2, got %d", stats.Count)
	}
	if stats.MeanMagnitude != 6.0 {
		t.Errorf("Expected mean magnitude 6.0, got %f", stats.MeanMagnitude)
	}
	if stats.MinDistance != 30.0 || stats.MaxDistance != 60.0 || stats.MeanDistance != 45.0 {
		t.Errorf("Unexpected distance stats: %+v", stats)
	}
	if stats.MedianMagnitude != 6.0 || stats.MedianDistance != 45.0 {
		t.Errorf("Unexpected medians: %+v", stats)
	}
}
