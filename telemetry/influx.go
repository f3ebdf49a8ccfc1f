// Package telemetry writes registry snapshots to InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/hubertat/swvio/vio"
)

const defaultMeasurement = "vio"
const defaultInterval = 10 * time.Second

type SnapshotSource interface {
	Snapshot() vio.Snapshot
}

type InfluxSink struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string
	Interval     vio.Duration
	Board        string

	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *log.Logger
}

func (is *InfluxSink) Setup() error {
	if len(is.Host) == 0 || len(is.Bucket) == 0 {
		return errors.New("influx sink needs Host and Bucket")
	}
	if len(is.Measurement) == 0 {
		is.Measurement = defaultMeasurement
	}
	if is.Interval <= 0 {
		is.Interval = vio.Duration(defaultInterval)
	}
	is.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "influx",
		Level:  log.GetLevel(),
	})

	is.client = influxdb2.NewClient(is.Host, is.Token)
	is.writer = is.client.WriteAPIBlocking(is.Organization, is.Bucket)
	return nil
}

// Point converts a snapshot into one InfluxDB point.
func (is *InfluxSink) Point(s vio.Snapshot, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"out": int64(s.Output),
		"in":  int64(s.Input),
	}
	for i, v := range s.Values {
		fields[fmt.Sprintf("value_%d", i)] = int64(v)
	}
	tags := map[string]string{}
	if len(is.Board) > 0 {
		tags["board"] = is.Board
	}
	return influxdb2.NewPoint(is.Measurement, tags, fields, ts)
}

func (is *InfluxSink) Write(ctx context.Context, s vio.Snapshot) error {
	if is.writer == nil {
		return errors.New("influx sink not set up")
	}
	err := is.writer.WritePoint(ctx, is.Point(s, time.Now()))
	if err != nil {
		return errors.Wrap(err, "failed to write snapshot to influx")
	}
	return nil
}

// Run writes a snapshot of source every Interval until ctx is done.
func (is *InfluxSink) Run(ctx context.Context, sched vio.Scheduler, source SnapshotSource) error {
	defer is.client.Close()

	return sched.Every(ctx, "influx", time.Duration(is.Interval), func() {
		err := is.Write(ctx, source.Snapshot())
		if err != nil {
			is.logger.Warn("snapshot not written", "err", err)
		}
	})
}
