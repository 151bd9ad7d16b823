// Package fdsn is a client for FDSN web services (station, event,
// dataselect) plus the travel-time service used for arrival windows.
//
// The package is self-contained: it knows nothing about the federation or
// download layers and can be used as a standalone SDK.
package fdsn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fdsn-service/pkg/models"
)

const (
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 60 * time.Second

	// timeFormat is the timestamp layout accepted by fdsnws query
	// parameters.
	timeFormat = "2006-01-02T15:04:05"
)

// Client is an HTTP client bound to a single FDSN provider.
type Client struct {
	provider   Provider
	httpClient *http.Client
	username   string
	password   string
}

// Config holds the configuration for a provider client.
type Config struct {
	Provider Provider
	Timeout  time.Duration
	Username string
	Password string
}

// NewClient creates a client for the given provider with default settings.
func NewClient(provider Provider) *Client {
	return NewClientWithConfig(Config{Provider: provider})
}

// NewClientWithConfig creates a client with custom configuration.
func NewClientWithConfig(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	return &Client{
		provider: config.Provider,
		username: config.Username,
		password: config.Password,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ID returns the provider identifier this client talks to.
func (c *Client) ID() string {
	return c.provider.ID
}

// SupportsBulk reports whether the provider accepts bulk dataselect bodies.
func (c *Client) SupportsBulk() bool {
	return c.provider.SupportsBulk
}

// APIError represents a non-2xx response from a provider.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("provider %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying (server-side
// errors and throttling; never client errors).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// doRequest performs an HTTP request against the provider. A 204 (and the
// alternate 404 "nodata" convention) yields an empty body with no error so
// callers can distinguish "no results" from a failed query.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, body io.Reader) ([]byte, error) {
	u, err := url.Parse(c.provider.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(firstLine(string(respBody))),
		}
	}

	return respBody, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// StationQuery holds the parameters of a station metadata query. Wildcards
// follow FDSN conventions (* and ?).
type StationQuery struct {
	Networks string
	Stations string
	Channels string
	Start    time.Time
	End      time.Time

	// Rectangular constraint.
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	UseBox         bool

	// Radial constraint (degrees).
	Lat, Lon             float64
	MinRadius, MaxRadius float64
	UseRadius            bool

	IncludeRestricted bool
}

// QueryStations fetches station metadata at channel level and normalizes it
// into the shared station model.
func (c *Client) QueryStations(ctx context.Context, q StationQuery) ([]models.Station, error) {
	params := url.Values{}
	params.Set("format", "text")
	params.Set("level", "channel")
	if q.Networks != "" {
		params.Set("network", q.Networks)
	}
	if q.Stations != "" {
		params.Set("station", q.Stations)
	}
	if q.Channels != "" {
		params.Set("channel", q.Channels)
	}
	if !q.Start.IsZero() {
		params.Set("starttime", q.Start.UTC().Format(timeFormat))
	}
	if !q.End.IsZero() {
		params.Set("endtime", q.End.UTC().Format(timeFormat))
	}
	if q.UseBox {
		params.Set("minlatitude", fmt.Sprintf("%g", q.MinLat))
		params.Set("maxlatitude", fmt.Sprintf("%g", q.MaxLat))
		params.Set("minlongitude", fmt.Sprintf("%g", q.MinLon))
		params.Set("maxlongitude", fmt.Sprintf("%g", q.MaxLon))
	}
	if q.UseRadius {
		params.Set("latitude", fmt.Sprintf("%g", q.Lat))
		params.Set("longitude", fmt.Sprintf("%g", q.Lon))
		params.Set("minradius", fmt.Sprintf("%g", q.MinRadius))
		params.Set("maxradius", fmt.Sprintf("%g", q.MaxRadius))
	}
	if q.IncludeRestricted {
		params.Set("includerestricted", "true")
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/fdsnws/station/1/query", params, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	return parseStationText(string(body), c.provider.ID)
}

// EventQuery holds the parameters of an event catalog query.
type EventQuery struct {
	Start time.Time
	End   time.Time

	// Zero values mean "no constraint" for the bounds below.
	MinMagnitude float64
	MaxMagnitude float64
	MinDepthKm   float64
	MaxDepthKm   float64
}

// QueryEvents fetches the event catalog for a time window and normalizes it
// into the shared event model.
func (c *Client) QueryEvents(ctx context.Context, q EventQuery) ([]models.Event, error) {
	params := url.Values{}
	params.Set("format", "text")
	if !q.Start.IsZero() {
		params.Set("starttime", q.Start.UTC().Format(timeFormat))
	}
	if !q.End.IsZero() {
		params.Set("endtime", q.End.UTC().Format(timeFormat))
	}
	if q.MinMagnitude > 0 {
		params.Set("minmagnitude", fmt.Sprintf("%g", q.MinMagnitude))
	}
	if q.MaxMagnitude > 0 {
		params.Set("maxmagnitude", fmt.Sprintf("%g", q.MaxMagnitude))
	}
	if q.MinDepthKm > 0 {
		params.Set("mindepth", fmt.Sprintf("%g", q.MinDepthKm))
	}
	if q.MaxDepthKm > 0 {
		params.Set("maxdepth", fmt.Sprintf("%g", q.MaxDepthKm))
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/fdsnws/event/1/query", params, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	return parseEventText(string(body), c.provider.ID)
}

// FetchSingle retrieves the waveform for one request, decoded from GeoCSV.
func (c *Client) FetchSingle(ctx context.Context, req models.DownloadRequest) ([]models.Trace, error) {
	params := url.Values{}
	params.Set("format", "geocsv")
	params.Set("network", req.Network)
	params.Set("station", req.Station)
	params.Set("location", locationParam(req.Location))
	params.Set("channel", req.Channel)
	params.Set("starttime", req.Start.UTC().Format(timeFormat))
	params.Set("endtime", req.End.UTC().Format(timeFormat))

	body, err := c.doRequest(ctx, http.MethodGet, c.dataselectPath(), params, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	traces, err := parseGeoCSV(string(body))
	if err != nil {
		return nil, err
	}
	for i := range traces {
		traces[i].EventID = req.EventID
	}
	return traces, nil
}

// FetchBulk retrieves waveforms for many requests in one round trip using a
// POST bulk body. The whole batch succeeds or fails as a unit.
func (c *Client) FetchBulk(ctx context.Context, reqs []models.DownloadRequest) ([]models.Trace, error) {
	if !c.provider.SupportsBulk {
		return nil, fmt.Errorf("provider %s does not support bulk requests", c.provider.ID)
	}

	var b strings.Builder
	b.WriteString("format=geocsv\n")
	for _, r := range reqs {
		fmt.Fprintf(&b, "%s %s %s %s %s %s\n",
			r.Network, r.Station, locationParam(r.Location), r.Channel,
			r.Start.UTC().Format(timeFormat), r.End.UTC().Format(timeFormat))
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.dataselectPath(), nil, strings.NewReader(b.String()))
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	traces, err := parseGeoCSV(string(body))
	if err != nil {
		return nil, err
	}
	annotateEventIDs(traces, reqs)
	return traces, nil
}

func (c *Client) dataselectPath() string {
	if c.username != "" && c.provider.SupportsAuth {
		return "/fdsnws/dataselect/1/queryauth"
	}
	return "/fdsnws/dataselect/1/query"
}

// locationParam maps empty location codes to the FDSN "--" placeholder.
func locationParam(loc string) string {
	if loc == "" {
		return "--"
	}
	return loc
}

// annotateEventIDs matches returned traces back to requests by trace
// identity and window overlap so each trace carries its event.
func annotateEventIDs(traces []models.Trace, reqs []models.DownloadRequest) {
	for i := range traces {
		for _, r := range reqs {
			if r.Network != traces[i].Network || r.Station != traces[i].Station ||
				r.Channel != traces[i].Channel {
				continue
			}
			if traces[i].Start.Before(r.End) && traces[i].End().After(r.Start) {
				traces[i].EventID = r.EventID
				break
			}
		}
	}
}
