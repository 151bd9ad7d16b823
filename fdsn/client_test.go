package fdsn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	provider, _ := NewRegistry().Get("IRIS")
	client := NewClient(provider)

	if client == nil {
		t.Fatal("Expected client to be created")
	}

	if client.ID() != "IRIS" {
		t.Errorf("Expected provider ID to be 'IRIS', got '%s'", client.ID())
	}

	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout to be %v, got %v", DefaultTimeout, client.httpClient.Timeout)
	}
}

func TestNewClientWithConfig(t *testing.T) {
	provider := Provider{ID: "TEST", BaseURL: "https://custom.example.org", SupportsBulk: true}
	client := NewClientWithConfig(Config{
		Provider: provider,
		Timeout:  5 * time.Second,
		Username: "user",
		Password: "pass",
	})

	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected timeout to be 5s, got %v", client.httpClient.Timeout)
	}

	if !client.SupportsBulk() {
		t.Error("Expected bulk support to be reported")
	}
}

func TestAPIErrorTransient(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{400, false},
		{401, false},
		{403, false},
	}

	for _, c := range cases {
		err := &APIError{StatusCode: c.code, Message: "x"}
		if err.Transient() != c.transient {
			t.Errorf("Expected Transient()=%v for status %d", c.transient, c.code)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("IRIS"); !ok {
		t.Error("Expected IRIS to be registered")
	}

	// 别名解析
	p, ok := r.Get("ETHZ")
	if !ok || p.ID != "ETH" {
		t.Errorf("Expected ETHZ alias to resolve to ETH, got %+v ok=%v", p, ok)
	}

	if r.Priority("IRIS") >= r.Priority("USGS") {
		t.Error("Expected IRIS to have higher trust priority than USGS")
	}

	if r.Priority("NOPE") <= r.Priority("GEONET") {
		t.Error("Expected unknown provider to sort after known providers")
	}
}

func TestParseStationText(t *testing.T) {
	body := `#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
IU|ANMO|00|BHZ|34.9459|-106.4572|1850.0|100.0|0.0|-90.0|Sensor|1|0.02|M/S|20.0|2010-01-01T00:00:00|2599-12-31T23:59:59
IU|ANMO|00|BHN|34.9459|-106.4572|1850.0|100.0|0.0|0.0|Sensor|1|0.02|M/S|20.0|2010-01-01T00:00:00|2599-12-31T23:59:59
IU|COLA|00|BHZ|64.8736|-147.8616|200.0|120.0|0.0|-90.0|Sensor|1|0.02|M/S|20.0|2005-09-28T22:00:00|
`

	stations, err := parseStationText(body, "IRIS")
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}

	if len(stations) != 2 {
		t.Fatalf("Expected 2 stations, got %d", len(stations))
	}

	anmo := stations[0]
	if anmo.Key() != "IU.ANMO" {
		t.Errorf("Expected first station IU.ANMO, got %s", anmo.Key())
	}
	if len(anmo.Channels) != 2 {
		t.Errorf("Expected 2 channels for ANMO, got %v", anmo.Channels)
	}
	if anmo.Provider != "IRIS" {
		t.Errorf("Expected provider IRIS, got %s", anmo.Provider)
	}

	cola := stations[1]
	if !cola.EndDate.IsZero() {
		t.Errorf("Expected open end date for COLA, got %v", cola.EndDate)
	}
}

func TestParseEventText(t *testing.T) {
	body := `#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
smi:service.iris.edu/fdsnws/event/1/query?eventid=755871|2010-02-27T06:34:13|-36.1485|-72.9327|28.1|ISC|ISC|ISC|16461885|MW|8.8|GCMT|OFFSHORE MAULE, CHILE
quakeml:earthquake.usgs.gov/archive/product/usp0009m0p|2010-02-27T06:52:36|-37.7734|-75.0461|35.0|us|us|us|x|mb|6.2|us|OFF COAST OF CENTRAL CHILE
`

	events, err := parseEventText(body, "ISC")
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	if events[0].ID != "755871" {
		t.Errorf("Expected event ID 755871, got %s", events[0].ID)
	}
	if events[0].Magnitude.Value != 8.8 || events[0].Magnitude.Type != "MW" {
		t.Errorf("Unexpected magnitude: %+v", events[0].Magnitude)
	}
	if events[1].ID != "usp0009m0p" {
		t.Errorf("Expected event ID usp0009m0p, got %s", events[1].ID)
	}
	if events[1].DepthKm != 35.0 {
		t.Errorf("Expected depth 35.0, got %f", events[1].DepthKm)
	}
}

func TestParseGeoCSV(t *testing.T) {
	body := `# dataset: GeoCSV 2.0
# delimiter: ,
# SID: IU_ANMO_00_BHZ
# sample_rate_hz: 2.0
Time, Sample
2010-02-27T06:30:00.000000Z, 1.0
2010-02-27T06:30:00.500000Z, 2.0
2010-02-27T06:30:01.000000Z, 3.0
# dataset: GeoCSV 2.0
# SID: IU_COLA_00_BHZ
# sample_rate_hz: 1.0
Time, Sample
2010-02-27T06:30:00.000000Z, -5.5
`

	traces, err := parseGeoCSV(body)
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}

	if len(traces) != 2 {
		t.Fatalf("Expected 2 traces, got %d", len(traces))
	}

	tr := traces[0]
	if tr.Key() != "IU.ANMO.00.BHZ" {
		t.Errorf("Expected trace key IU.ANMO.00.BHZ, got %s", tr.Key())
	}
	if len(tr.Samples) != 3 {
		t.Errorf("Expected 3 samples, got %d", len(tr.Samples))
	}
	if tr.SampleRate != 2.0 {
		t.Errorf("Expected sample rate 2.0, got %f", tr.SampleRate)
	}
	// 3 个采样 @ 2 Hz = 1.5 秒
	wantEnd := tr.Start.Add(1500 * time.Millisecond)
	if !tr.End().Equal(wantEnd) {
		t.Errorf("Expected end %v, got %v", wantEnd, tr.End())
	}

	if traces[1].FetchSeq <= traces[0].FetchSeq {
		t.Error("Expected fetch sequence to increase across datasets")
	}
}

func TestParseTravelTimeText(t *testing.T) {
	body := `10.00 35.0 P 153.45 13.21 28.9 26.2 10.00 P
10.00 35.0 S 276.80 24.10 29.5 27.0 10.00 S
`

	arrivals, err := parseTravelTimeText(body)
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}

	if len(arrivals) != 2 {
		t.Fatalf("Expected 2 arrivals, got %d", len(arrivals))
	}
	if arrivals[0].Phase != "P" || arrivals[0].TimeOffsetSec != 153.45 {
		t.Errorf("Unexpected first arrival: %+v", arrivals[0])
	}
	if arrivals[0].RayParamSecDeg != 13.21 || arrivals[0].TakeoffAngleDeg != 28.9 {
		t.Errorf("Unexpected arrival details: %+v", arrivals[0])
	}
}

func TestQueryStationsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Provider{ID: "TEST", BaseURL: srv.URL})
	stations, err := client.QueryStations(context.Background(), StationQuery{})
	if err != nil {
		t.Fatalf("Expected no error for 204 response, got %v", err)
	}
	if stations != nil {
		t.Errorf("Expected nil stations for no content, got %v", stations)
	}
}

func TestQueryEventsBoundsIndependent(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Provider{ID: "TEST", BaseURL: srv.URL})
	_, err := client.QueryEvents(context.Background(), EventQuery{MinMagnitude: 5.5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("Unexpected query parse error: %v", err)
	}
	if values.Get("minmagnitude") != "5.5" {
		t.Errorf("Expected minmagnitude=5.5 without an upper bound, got %q", query)
	}
	if values.Has("maxmagnitude") || values.Has("mindepth") || values.Has("maxdepth") {
		t.Errorf("Expected unset bounds to be omitted, got %q", query)
	}
}

func TestQueryStationsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily out of service", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Provider{ID: "TEST", BaseURL: srv.URL})
	_, err := client.QueryStations(context.Background(), StationQuery{})

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if !apiErr.Transient() {
		t.Error("Expected 503 to be transient")
	}
}

func TestFetchBulkUnsupported(t *testing.T) {
	client := NewClient(Provider{ID: "TEST", BaseURL: "http://example.org", SupportsBulk: false})
	if _, err := client.FetchBulk(context.Background(), nil); err == nil {
		t.Error("Expected error for bulk fetch on non-bulk provider")
	}
}
