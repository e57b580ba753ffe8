package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementLampState is the measurement lamp snapshots are written to.
const MeasurementLampState = "lamp_state"

// LampSample is one snapshot of a lamp's visible state.
type LampSample struct {
	LampID    int64
	Model     string
	Source    string
	Power     bool
	Bright    int
	CT        int
	RGB       int
	Hue       int
	Sat       int
	Flowing   bool
	MusicMode bool
}

// LampStatePoint builds the lamp_state point for a sample.
//
// Tags are lamp_id, model and source; every other attribute is a field so
// dashboards can graph brightness and colour over time.
func LampStatePoint(s LampSample, at time.Time) *write.Point {
	tags := map[string]string{
		"lamp_id": strconv.FormatInt(s.LampID, 10),
	}
	if s.Model != "" {
		tags["model"] = s.Model
	}
	if s.Source != "" {
		tags["source"] = s.Source
	}

	fields := map[string]interface{}{
		"power":   s.Power,
		"bright":  int64(s.Bright),
		"ct":      int64(s.CT),
		"rgb":     int64(s.RGB),
		"hue":     int64(s.Hue),
		"sat":     int64(s.Sat),
		"flowing": s.Flowing,
		"music":   s.MusicMode,
	}

	return write.NewPoint(MeasurementLampState, tags, fields, at)
}

// WriteLampState queues one lamp snapshot. Dropped silently when
// disconnected.
func (c *Client) WriteLampState(s LampSample, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(LampStatePoint(s, at))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
