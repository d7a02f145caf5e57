package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the identity service. Tags never carry user IDs
// or emails.
const (
	MeasurementIdentityEvents = "identity_events"
	MeasurementSessions       = "identity_sessions"
)

// WriteIdentityEvent counts one identity event, e.g. a failed login, at the
// time it happened.
func (c *Client) WriteIdentityEvent(action, level, site string, at time.Time) {
	c.enqueue(influxdb2.NewPointWithMeasurement(MeasurementIdentityEvents).
		AddTag("action", action).
		AddTag("level", level).
		AddTag("site", site).
		AddField("count", 1).
		SetTime(at))
}

// WriteSessionsPurged records how many expired sessions one sweep removed.
func (c *Client) WriteSessionsPurged(site string, purged int64) {
	c.enqueue(influxdb2.NewPointWithMeasurement(MeasurementSessions).
		AddTag("site", site).
		AddField("purged", purged).
		SetTime(time.Now()))
}

// enqueue hands p to the batching writer. Points written after Close are
// dropped.
func (c *Client) enqueue(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
