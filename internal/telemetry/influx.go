// Package telemetry records vacuum snapshots as InfluxDB points for
// long-term history (battery curves, cleaning area over time).
package telemetry

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/miiohome/vacuumd/internal/config"
	"github.com/miiohome/vacuumd/internal/dreame"
)

const measurement = "vacuum"

// Sink writes snapshots to an InfluxDB v2 bucket through the client's
// buffered non-blocking write API.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	device   string
	log      *slog.Logger
	done     chan struct{}
}

func NewSink(cfg config.InfluxConfig, device string, log *slog.Logger) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	s := &Sink{
		client:   client,
		writeAPI: writeAPI,
		device:   device,
		log:      log,
		done:     make(chan struct{}),
	}

	// The write API reports async failures on a channel; drain it so
	// dropped batches surface in the logs instead of silently vanishing.
	go func() {
		defer close(s.done)
		for err := range writeAPI.Errors() {
			s.log.Warn("influx write", "component", "telemetry", "error", err)
		}
	}()

	return s
}

// Record converts a snapshot to a point. It is registered as a poller
// subscriber and must not block.
func (s *Sink) Record(snap dreame.Snapshot) {
	s.writeAPI.WritePoint(Point(snap, s.device))
}

// Close flushes buffered points and shuts down the client.
func (s *Sink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
	<-s.done
}

// Point builds the Influx point for one snapshot.
func Point(snap dreame.Snapshot, device string) *write.Point {
	fields := map[string]any{
		"battery":     snap.Battery,
		"fan_speed":   int(snap.FanSpeed),
		"available":   snap.State != dreame.StateUnavailable,
		"clean_count": snap.TotalCleanCount,
	}
	if snap.FaultCode != nil {
		fields["fault_code"] = *snap.FaultCode
	}
	if snap.CleaningTime != "" {
		fields["cleaning_time"] = snap.CleaningTime
	}
	if snap.CleaningArea != "" {
		fields["cleaning_area"] = snap.CleaningArea
	}

	ts := snap.LastUpdated
	if ts.IsZero() {
		ts = time.Now()
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"device": device,
			"state":  string(snap.State),
		},
		fields,
		ts,
	)
}
