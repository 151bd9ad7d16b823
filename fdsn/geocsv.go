package fdsn

import (
	"fmt"
	"strconv"
	"strings"

	"fdsn-service/pkg/models"
)

// parseGeoCSV parses GeoCSV 2.0 time-series output into traces. A response
// may carry several datasets back to back; each "# dataset:" header starts
// a new trace.
//
// Expected headers per block:
//
//	# dataset: GeoCSV 2.0
//	# SID: IU_ANMO_00_BHZ
//	# sample_rate_hz: 20.0
//	Time, Sample
//	2010-02-27T06:30:00.000000Z, 123.0
func parseGeoCSV(body string) ([]models.Trace, error) {
	var traces []models.Trace
	var current *models.Trace
	seq := 0

	flush := func() {
		if current != nil && len(current.Samples) > 0 {
			traces = append(traces, *current)
		}
		current = nil
	}

	for lineNo, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			key, value := parseGeoCSVHeader(line)
			switch key {
			case "dataset":
				flush()
				seq++
				current = &models.Trace{FetchSeq: seq}
			case "SID", "sid":
				if current == nil {
					return nil, fmt.Errorf("geocsv line %d: SID header before dataset", lineNo+1)
				}
				if err := applySID(current, value); err != nil {
					return nil, fmt.Errorf("geocsv line %d: %w", lineNo+1, err)
				}
			case "sample_rate_hz":
				if current == nil {
					return nil, fmt.Errorf("geocsv line %d: sample_rate_hz header before dataset", lineNo+1)
				}
				rate, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("geocsv line %d: bad sample rate: %w", lineNo+1, err)
				}
				current.SampleRate = rate
			}
			continue
		}

		// 表头行 "Time, Sample"
		if strings.HasPrefix(line, "Time") {
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("geocsv line %d: data row before dataset header", lineNo+1)
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("geocsv line %d: expected time,sample row", lineNo+1)
		}
		ts := parseFDSNTime(line[:comma])
		sample, err := strconv.ParseFloat(strings.TrimSpace(line[comma+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("geocsv line %d: bad sample: %w", lineNo+1, err)
		}

		if len(current.Samples) == 0 && !ts.IsZero() {
			current.Start = ts
		}
		current.Samples = append(current.Samples, sample)
	}

	flush()
	return traces, nil
}

func parseGeoCSVHeader(line string) (key, value string) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return line, ""
	}
	return strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:])
}

// applySID splits a source identifier (NET_STA_LOC_CHA) into the trace
// identity fields.
func applySID(t *models.Trace, sid string) error {
	sid = strings.TrimPrefix(sid, "FDSN:")
	parts := strings.Split(sid, "_")
	if len(parts) < 4 {
		return fmt.Errorf("bad SID %q", sid)
	}
	t.Network = parts[0]
	t.Station = parts[1]
	t.Location = parts[2]
	// 新式 SID 的通道可能写成 B_H_Z 三段
	t.Channel = strings.Join(parts[3:], "")
	return nil
}
