// Package influxdb mirrors node telemetry into InfluxDB 2.x.
//
// Sensor samples published over MQTT are also written as points so the
// history survives broker retention. Writes are non-blocking: points are
// batched by the client library and flushed every flush_interval seconds,
// and asynchronous write failures are reported through SetOnError.
//
//	influxdb:
//	  enabled: true
//	  url: "http://127.0.0.1:8086"
//	  org: "meshlink"
//	  bucket: "telemetry"
//
// Measurements:
//
//	sensor   tags: mesh_id, device_id, sensor_type   field: value
//	routing  tags: mesh_id, device_id                 field: peers
package influxdb
