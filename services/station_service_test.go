package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fdsn-service/pkg/common"
	"fdsn-service/pkg/geo"
	"fdsn-service/pkg/models"
)

func testFilters() models.QueryFilters {
	return models.QueryFilters{
		Start: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFederatedStationSearch(t *testing.T) {
	sta1 := models.Station{Network: "NET1", Station: "STA1", Latitude: 10, Longitude: 20, Channels: []string{"BHZ"}}
	sta2 := models.Station{Network: "NET2", Station: "STA2", Latitude: 11, Longitude: 21, Channels: []string{"BHZ"}}

	a1 := sta1
	a1.Provider = "A"
	b1 := sta1
	b1.Provider = "B"
	b2 := sta2
	b2.Provider = "B"

	clients := map[string]*fakeClient{
		"A": {id: "A", stations: []models.Station{a1}},
		"B": {id: "B", stations: []models.Station{b1, b2}},
	}

	svc := NewStationService(fakeFactory(clients), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A", "B"}, testFilters())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Stations) != 2 {
		t.Fatalf("Expected 2 stations after dedup, got %d", len(result.Stations))
	}

	merged := result.Stations[0]
	if merged.Key() != "NET1.STA1" {
		t.Fatalf("Expected NET1.STA1 first, got %s", merged.Key())
	}
	if len(merged.Providers) != 2 || merged.Providers[0] != "A" || merged.Providers[1] != "B" {
		t.Errorf("Expected provenance {A, B}, got %v", merged.Providers)
	}

	if len(result.Statuses) != 2 {
		t.Fatalf("Expected 2 provider statuses, got %d", len(result.Statuses))
	}
	for _, st := range result.Statuses {
		if !st.OK {
			t.Errorf("Expected provider %s to succeed", st.Provider)
		}
	}
}

func TestStationSearchProviderIsolation(t *testing.T) {
	sta := models.Station{Network: "IU", Station: "ANMO", Provider: "A", Channels: []string{"BHZ"}}
	clients := map[string]*fakeClient{
		"A": {id: "A", stations: []models.Station{sta}},
		"B": {id: "B", stationErr: errors.New("connection reset")},
	}

	svc := NewStationService(fakeFactory(clients), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A", "B"}, testFilters())
	if err != nil {
		t.Fatalf("Expected partial success, got error: %v", err)
	}

	if len(result.Stations) != 1 {
		t.Errorf("Expected 1 station, got %d", len(result.Stations))
	}

	for _, st := range result.Statuses {
		if st.Provider == "B" {
			if st.OK {
				t.Error("Expected provider B to be marked failed")
			}
			if st.Kind != string(common.KindProviderUnavailable) {
				t.Errorf("Expected transient failure kind, got %s", st.Kind)
			}
			if st.Attempts != 2 {
				t.Errorf("Expected 2 attempts for transient failure, got %d", st.Attempts)
			}
		}
	}
}

func TestStationSearchAllProvidersUnavailable(t *testing.T) {
	clients := map[string]*fakeClient{
		"A": {id: "A", stationErr: errors.New("timeout")},
		"B": {id: "B", stationErr: errors.New("timeout")},
	}

	svc := NewStationService(fakeFactory(clients), testConfig(), nil)
	_, err := svc.Search(context.Background(), []string{"A", "B"}, testFilters())
	if !errors.Is(err, common.ErrAllProvidersUnavailable) {
		t.Errorf("Expected ErrAllProvidersUnavailable, got %v", err)
	}
}

func TestDeduplicateStationsIdempotent(t *testing.T) {
	stations := []models.Station{
		{Network: "IU", Station: "ANMO", Provider: "IRIS", Channels: []string{"BHZ", "BHN"}},
		{Network: "iu", Station: "anmo", Provider: "ORFEUS", Channels: []string{"BHE"}},
	}

	once := DeduplicateStations(stations)
	twice := DeduplicateStations(append(once, once...))

	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("Expected 1 station after dedup, got %d and %d", len(once), len(twice))
	}
	if len(once[0].Channels) != 3 {
		t.Errorf("Expected 3 channels after union, got %v", once[0].Channels)
	}
	if len(twice[0].Channels) != len(once[0].Channels) || len(twice[0].Providers) != len(once[0].Providers) {
		t.Errorf("Dedup not idempotent: %+v vs %+v", once[0], twice[0])
	}
}

func TestStationPostFilterROI(t *testing.T) {
	inside := models.Station{Network: "N1", Station: "IN", Latitude: 10, Longitude: 20, Provider: "A", Channels: []string{"BHZ"}}
	outside := models.Station{Network: "N1", Station: "OUT", Latitude: 50, Longitude: 90, Provider: "A", Channels: []string{"BHZ"}}

	clients := map[string]*fakeClient{
		"A": {id: "A", stations: []models.Station{inside, outside}},
	}

	filters := testFilters()
	filters.ROI = geo.Rectangle{MinLat: 0, MaxLat: 20, MinLon: 10, MaxLon: 30}
	filters.IncludeClosed = true

	svc := NewStationService(fakeFactory(clients), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A"}, filters)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Stations) != 1 || result.Stations[0].Station != "IN" {
		t.Errorf("Expected only the in-ROI station, got %v", result.Stations)
	}
}

func TestStationEventCenteredAnnotation(t *testing.T) {
	sta := models.Station{Network: "N1", Station: "S1", Latitude: 0, Longitude: 30, Provider: "A", Channels: []string{"BHZ"}}
	clients := map[string]*fakeClient{
		"A": {id: "A", stations: []models.Station{sta}},
	}

	filters := testFilters()
	filters.Center = &models.Point{Latitude: 0, Longitude: 0}
	filters.MinDistanceDeg = 10
	filters.MaxDistanceDeg = 90
	filters.IncludeClosed = true

	svc := NewStationService(fakeFactory(clients), testConfig(), nil)
	result, err := svc.Search(context.Background(), []string{"A"}, filters)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Stations) != 1 {
		t.Fatalf("Expected 1 station, got %d", len(result.Stations))
	}

	got := result.Stations[0]
	if got.DistanceDeg == nil || got.Azimuth == nil || got.BackAzimuth == nil {
		t.Fatal("Expected distance/azimuth annotation in event-centered mode")
	}
	if *got.DistanceDeg < 29.9 || *got.DistanceDeg > 30.1 {
		t.Errorf("Expected distance ~30 deg, got %f", *got.DistanceDeg)
	}
}
