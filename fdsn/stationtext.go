package fdsn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fdsn-service/pkg/models"
)

// station text column layout at level=channel:
// Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|
// Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|
// StartTime|EndTime
const stationTextColumns = 17

// parseStationText parses the FDSN station text format (one row per
// channel epoch) and aggregates rows into one station record per NET.STA.
func parseStationText(body, provider string) ([]models.Station, error) {
	byKey := make(map[string]*models.Station)
	var order []string

	for lineNo, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < stationTextColumns {
			return nil, fmt.Errorf("station text line %d: expected %d fields, got %d", lineNo+1, stationTextColumns, len(fields))
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("station text line %d: bad latitude: %w", lineNo+1, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("station text line %d: bad longitude: %w", lineNo+1, err)
		}
		elev, _ := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)

		net := strings.TrimSpace(fields[0])
		sta := strings.TrimSpace(fields[1])
		cha := strings.TrimSpace(fields[3])
		start := parseFDSNTime(fields[15])
		end := parseFDSNTime(fields[16])

		key := strings.ToUpper(net) + "." + strings.ToUpper(sta)
		s, ok := byKey[key]
		if !ok {
			s = &models.Station{
				Network:   net,
				Station:   sta,
				Latitude:  lat,
				Longitude: lon,
				Elevation: elev,
				StartDate: start,
				EndDate:   end,
				Provider:  provider,
				Providers: []string{provider},
			}
			byKey[key] = s
			order = append(order, key)
		}

		if cha != "" && !containsString(s.Channels, cha) {
			s.Channels = append(s.Channels, cha)
		}
		// 台站运行范围取所有通道时段的并集
		if !start.IsZero() && (s.StartDate.IsZero() || start.Before(s.StartDate)) {
			s.StartDate = start
		}
		if end.IsZero() {
			s.EndDate = time.Time{}
		} else if !s.EndDate.IsZero() && end.After(s.EndDate) {
			s.EndDate = end
		}
	}

	stations := make([]models.Station, 0, len(order))
	for _, key := range order {
		sort.Strings(byKey[key].Channels)
		stations = append(stations, *byKey[key])
	}
	return stations, nil
}

// parseFDSNTime parses the timestamp formats providers emit in text output.
// Missing or unparseable values yield the zero time.
func parseFDSNTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02T15:04:05.999999Z",
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
