package fdsn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fdsn-service/pkg/models"
)

// event text column layout:
// EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|
// ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
const eventTextColumns = 13

var eventIDQuery = regexp.MustCompile(`eventid=([^&\s]+)`)

// parseEventText parses the FDSN event text format into the shared event
// model. Rows missing required origin fields are rejected.
func parseEventText(body, provider string) ([]models.Event, error) {
	var events []models.Event

	for lineNo, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < eventTextColumns {
			return nil, fmt.Errorf("event text line %d: expected %d fields, got %d", lineNo+1, eventTextColumns, len(fields))
		}

		t := parseFDSNTime(fields[1])
		if t.IsZero() {
			return nil, fmt.Errorf("event text line %d: bad origin time %q", lineNo+1, fields[1])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("event text line %d: bad latitude: %w", lineNo+1, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("event text line %d: bad longitude: %w", lineNo+1, err)
		}
		depth, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("event text line %d: bad depth: %w", lineNo+1, err)
		}
		mag, err := strconv.ParseFloat(strings.TrimSpace(fields[10]), 64)
		if err != nil {
			return nil, fmt.Errorf("event text line %d: bad magnitude: %w", lineNo+1, err)
		}

		events = append(events, models.Event{
			ID:        ExtractEventID(strings.TrimSpace(fields[0])),
			Time:      t,
			Latitude:  lat,
			Longitude: lon,
			DepthKm:   depth,
			Magnitude: models.Magnitude{
				Type:   strings.TrimSpace(fields[9]),
				Value:  mag,
				Author: strings.TrimSpace(fields[11]),
			},
			Provider: provider,
		})
	}

	return events, nil
}

// ExtractEventID reduces provider resource identifiers to a storable key:
//
//	smi:service.iris.edu/fdsnws/event/1/query?eventid=755871 -> 755871
//	quakeml:earthquake.usgs.gov/.../usp0009m0p               -> usp0009m0p
func ExtractEventID(resourceID string) string {
	if m := eventIDQuery.FindStringSubmatch(resourceID); m != nil {
		return m[1]
	}
	if i := strings.LastIndexByte(resourceID, '/'); i >= 0 {
		return resourceID[i+1:]
	}
	return resourceID
}
