package fdsn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Arrival is one computed phase arrival.
type Arrival struct {
	Phase           string
	TimeOffsetSec   float64
	RayParamSecDeg  float64
	TakeoffAngleDeg float64
}

// TravelTimeClient queries a travel-time web service for theoretical phase
// arrivals. It implements the arrival oracle consumed by the download
// planner.
type TravelTimeClient struct {
	baseURL    string
	httpClient *http.Client
}

// DefaultTravelTimeURL is the IRIS travel-time service endpoint.
const DefaultTravelTimeURL = "https://service.iris.edu/irisws/traveltime/1/query"

// NewTravelTimeClient creates a travel-time client. An empty baseURL uses
// the default endpoint.
func NewTravelTimeClient(baseURL string, timeout time.Duration) *TravelTimeClient {
	if baseURL == "" {
		baseURL = DefaultTravelTimeURL
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &TravelTimeClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Arrival returns the first arrival of the given phase, or ok=false when the
// service computes no arrival for this phase/distance/depth combination.
func (c *TravelTimeClient) Arrival(ctx context.Context, phase, model string, distanceDeg, depthKm float64) (Arrival, bool, error) {
	params := url.Values{}
	params.Set("phases", phase)
	params.Set("model", model)
	params.Set("distdeg", fmt.Sprintf("%g", distanceDeg))
	params.Set("evdepth", fmt.Sprintf("%g", depthKm))
	params.Set("noheader", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Arrival{}, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Arrival{}, false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return Arrival{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Arrival{}, false, &APIError{StatusCode: resp.StatusCode, Message: "traveltime query failed"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Arrival{}, false, fmt.Errorf("failed to read response body: %w", err)
	}

	arrivals, err := parseTravelTimeText(string(body))
	if err != nil {
		return Arrival{}, false, err
	}
	for _, a := range arrivals {
		if a.Phase == phase {
			return a, true, nil
		}
	}
	return Arrival{}, false, nil
}

// parseTravelTimeText parses the whitespace-separated traveltime table:
// distance depth phase travel-time ray-param takeoff incident purist-dist
// purist-name
func parseTravelTimeText(body string) ([]Arrival, error) {
	var arrivals []Arrival

	for lineNo, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "Model") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return nil, fmt.Errorf("traveltime line %d: expected at least 6 fields, got %d", lineNo+1, len(fields))
		}

		tt, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("traveltime line %d: bad travel time: %w", lineNo+1, err)
		}
		rayParam, _ := strconv.ParseFloat(fields[4], 64)
		takeoff, _ := strconv.ParseFloat(fields[5], 64)

		arrivals = append(arrivals, Arrival{
			Phase:           fields[2],
			TimeOffsetSec:   tt,
			RayParamSecDeg:  rayParam,
			TakeoffAngleDeg: takeoff,
		})
	}

	return arrivals, nil
}
