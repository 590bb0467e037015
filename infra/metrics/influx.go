package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/groengemak/solgrid/core/metrics"
	"github.com/groengemak/solgrid/infra/logger"
)

// InfluxSink writes scheduling and polling observations to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// when the health check fails, so a dead metrics backend never blocks the
// control loop.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) writePoint(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAdmission writes one admission decision.
func (s *InfluxSink) RecordAdmission(grid string, admitted bool) error {
	p := write.NewPointWithMeasurement("grid_admission").
		AddTag("grid", grid).
		AddTag("admitted", strconv.FormatBool(admitted)).
		AddField("count", 1).
		SetTime(time.Now())
	return s.writePoint(p)
}

// RecordPreemption writes one preemption event.
func (s *InfluxSink) RecordPreemption(grid, kind string) error {
	p := write.NewPointWithMeasurement("grid_preemption").
		AddTag("grid", grid).
		AddTag("kind", kind).
		AddField("count", 1).
		SetTime(time.Now())
	return s.writePoint(p)
}

// RecordBalance writes the latest observed power balance.
func (s *InfluxSink) RecordBalance(grid string, watts float64) error {
	p := write.NewPointWithMeasurement("grid_power_balance").
		AddTag("grid", grid).
		AddField("watts", watts).
		SetTime(time.Now())
	return s.writePoint(p)
}

// RecordPollCycle writes one poll cycle summary.
func (s *InfluxSink) RecordPollCycle(bus string, failures int) error {
	p := write.NewPointWithMeasurement("bus_poll_cycle").
		AddTag("bus", bus).
		AddField("failures", failures).
		SetTime(time.Now())
	return s.writePoint(p)
}

// RecordDeviceValue writes the most recent value polled from a device.
func (s *InfluxSink) RecordDeviceValue(bus, device string, value float64) error {
	p := write.NewPointWithMeasurement("bus_device_value").
		AddTag("bus", bus).
		AddTag("device", device).
		AddField("value", value).
		SetTime(time.Now())
	return s.writePoint(p)
}
