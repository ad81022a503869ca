// Package telemetry records bridge attribute changes as InfluxDB points.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter/clusters"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

var ErrConnectionFailed = errors.New("influxdb: connection failed")

// Config holds the InfluxDB connection settings.
type Config struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// pointWriter is the part of the InfluxDB write API the recorder needs.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder turns attribute change events into points. Writes are batched
// and never block event delivery.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	logger *slog.Logger
	unsub  func()
}

// Connect creates the InfluxDB client, verifies the server is healthy and
// sets up the non-blocking write API.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(writeAPI, logger)
	r.client = client
	go func() {
		for err := range writeAPI.Errors() {
			r.logger.Warn("influxdb write failed", "err", err)
		}
	}()
	r.logger.Info("influxdb connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

func newRecorder(w pointWriter, logger *slog.Logger) *Recorder {
	return &Recorder{writer: w, logger: logger.With("component", "telemetry")}
}

// Subscribe starts recording attribute changes from bus.
func (r *Recorder) Subscribe(bus *bridge.EventBus) {
	r.unsub = bus.On(bridge.EventAttributeChanged, r.handleEvent)
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	if r.unsub != nil {
		r.unsub()
	}
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}

func (r *Recorder) handleEvent(ev bridge.Event) {
	change, ok := ev.Data.(bridge.AttributeChange)
	if !ok {
		return
	}
	if p := pointFor(change, time.Now()); p != nil {
		r.writer.WritePoint(p)
	}
}

// pointFor maps a change to a point. Known measurements get a typed field;
// everything else lands in the generic "attribute" measurement. Node label
// changes are not recorded.
func pointFor(c bridge.AttributeChange, ts time.Time) *write.Point {
	tags := map[string]string{
		"endpoint": strconv.Itoa(int(c.Endpoint)),
		"device":   c.Name,
		"source":   c.Source,
	}
	var measurement string
	fields := map[string]interface{}{}

	switch {
	case c.Cluster == clusters.TemperatureMeasurementID && c.Attribute == clusters.TemperatureAttrMeasuredValue:
		measurement = "temperature"
		fields["celsius"] = float64(c.Value.AsInt()) / 100
	case c.Cluster == clusters.RelativeHumidityID && c.Attribute == clusters.HumidityAttrMeasuredValue:
		measurement = "humidity"
		fields["percent"] = float64(c.Value.AsUint()) / 100
	case c.Cluster == clusters.OnOffID && c.Attribute == clusters.OnOffAttrOnOff:
		measurement = "on_off"
		fields["on"] = c.Value.AsBool()
	case c.Cluster == clusters.PowerSourceID && c.Attribute == clusters.PowerSourceAttrBatChargeLevel:
		measurement = "battery"
		level := c.Value.AsUint()
		fields["charge_level"] = int64(level)
		if level < uint64(len(clusters.BatChargeLevelNames)) {
			tags["level"] = clusters.BatChargeLevelNames[level]
		}
	case c.Cluster == clusters.BridgedBasicInfoID && c.Attribute == clusters.BridgedBasicAttrReachable:
		measurement = "reachability"
		fields["reachable"] = c.Value.AsBool()
	case c.Cluster == clusters.BridgedBasicInfoID && c.Attribute == clusters.BridgedBasicAttrNodeLabel:
		return nil
	default:
		measurement = "attribute"
		tags["cluster"] = c.ClusterName
		tags["attribute"] = c.AttributeName
		v := c.Value.Interface()
		if b, ok := v.([]byte); ok {
			v = fmt.Sprintf("%X", b)
		}
		fields["value"] = v
	}
	return write.NewPoint(measurement, tags, fields, ts)
}
