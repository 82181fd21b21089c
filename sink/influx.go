package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/record"
)

// InfluxConfig configures the time-series sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes commit records as time-series points: one point per
// variant present, measurement name = variant, tagged with the device
// identity. Influx replaces a point that repeats measurement, tags and
// timestamp, so redelivered commits are naturally idempotent.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInfluxSink creates the time-series sink.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx URL cannot be empty")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	logger.Info("InfluxDB time-series sink initialized, bucket %s", cfg.Bucket)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Write writes one point per variant carried by the record, all stamped
// with the reading epoch.
func (s *InfluxSink) Write(ctx context.Context, rec record.CommitRecord) error {
	// partial travels as a field, not a tag: a later complete commit of the
	// same key must overwrite the earlier partial point, and a tag would
	// split them into distinct series.
	tags := map[string]string{"device_id": rec.Device}

	for variant, fields := range rec.FieldsByVariant() {
		fields["partial"] = rec.Partial
		p := influxdb2.NewPoint(string(variant), tags, fields, rec.Epoch)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("influx write %s/%s: %w", rec.Key, variant, err)
		}
	}
	return nil
}

// Close shuts down the client.
func (s *InfluxSink) Close(_ context.Context) error {
	s.client.Close()
	return nil
}

var _ Sink = (*InfluxSink)(nil)
