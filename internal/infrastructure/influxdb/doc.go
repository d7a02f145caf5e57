// Package influxdb records identity event counters in InfluxDB.
//
// It wraps influxdb-client-go v2 with connection management, non-blocking
// batched writes and health monitoring.
//
// # Measurements
//
//	identity_events   tags: action, level, site   fields: count
//	identity_sessions tags: site                  fields: purged
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
//	client.WriteIdentityEvent("login", "success", cfg.Site.ID, time.Now())
package influxdb
