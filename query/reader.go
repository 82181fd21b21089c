// Package query exposes the persisted time-series data through a thin
// read-only HTTP facade.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Reading is one row returned to callers: the pivoted fields of one variant
// measurement at one reading epoch.
type Reading struct {
	Time    time.Time              `json:"time"`
	Device  string                 `json:"device_id"`
	Variant string                 `json:"variant"`
	Partial bool                   `json:"partial"`
	Fields  map[string]interface{} `json:"fields"`
}

// Request selects readings. Zero times mean an unbounded side of the range.
type Request struct {
	Limit  int
	Device string
	Since  time.Time
	Until  time.Time
}

// Reader lists persisted readings newest first.
type Reader interface {
	Latest(ctx context.Context, req Request) ([]Reading, error)
}

// InfluxReader reads from the time-series sink.
type InfluxReader struct {
	queryAPI api.QueryAPI
	bucket   string
}

// NewInfluxReader creates a reader over the given bucket.
func NewInfluxReader(client influxdb2.Client, org, bucket string) *InfluxReader {
	return &InfluxReader{
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
	}
}

// deviceIDPattern keeps user input out of flux string injection.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Latest queries the bucket, newest rows first.
func (r *InfluxReader) Latest(ctx context.Context, req Request) ([]Reading, error) {
	start := "0"
	if !req.Since.IsZero() {
		start = req.Since.UTC().Format(time.RFC3339)
	}
	stop := "now()"
	if !req.Until.IsZero() {
		stop = req.Until.UTC().Format(time.RFC3339)
	}

	var deviceFilter string
	if req.Device != "" {
		if !deviceIDPattern.MatchString(req.Device) {
			return nil, fmt.Errorf("invalid device id %q", req.Device)
		}
		deviceFilter = fmt.Sprintf(`|> filter(fn: (r) => r["device_id"] == "%s")`, req.Device)
	}

	flux := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: %s, stop: %s)
		%s
		|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
		|> group()
		|> sort(columns: ["_time"], desc: true)
		|> limit(n: %d)
	`, r.bucket, start, stop, deviceFilter, req.Limit)

	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("error querying InfluxDB: %w", err)
	}

	var readings []Reading
	for result.Next() {
		rec := result.Record()

		reading := Reading{
			Time:    rec.Time(),
			Variant: rec.Measurement(),
			Fields:  make(map[string]interface{}),
		}
		for key, value := range rec.Values() {
			if strings.HasPrefix(key, "_") || key == "result" || key == "table" {
				continue
			}
			switch key {
			case "device_id":
				if id, ok := value.(string); ok {
					reading.Device = id
				}
			case "partial":
				if p, ok := value.(bool); ok {
					reading.Partial = p
				}
			default:
				reading.Fields[key] = value
			}
		}
		readings = append(readings, reading)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error iterating query result: %w", result.Err())
	}

	return readings, nil
}

var _ Reader = (*InfluxReader)(nil)
