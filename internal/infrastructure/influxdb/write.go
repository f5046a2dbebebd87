package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSensor  = "sensor"
	MeasurementRouting = "routing"
)

// RecordSample writes one sensor reading. It is a no-op once closed.
func (c *Client) RecordSample(sensorType string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sensorPoint(c.meshID, c.deviceID, sensorType, value, at))
}

// RecordRoutingTable writes the size of the routing table.
func (c *Client) RecordRoutingTable(peers int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(routingPoint(c.meshID, c.deviceID, peers, at))
}

func sensorPoint(meshID, deviceID, sensorType string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSensor,
		map[string]string{
			"mesh_id":     meshID,
			"device_id":   deviceID,
			"sensor_type": sensorType,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func routingPoint(meshID, deviceID string, peers int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRouting,
		map[string]string{
			"mesh_id":   meshID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"peers": peers,
		},
		at,
	)
}
