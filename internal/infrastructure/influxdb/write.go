package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntity is the measurement LCN entity values are stored in.
const MeasurementEntity = "lcn_entity"

// WriteDeviceMetric records one value of an entity, tagged with its unique
// ID and the metric name.
//
//	client.WriteDeviceMetric("01J8...-m000007-output1", "brightness", 50)
func (c *Client) WriteDeviceMetric(deviceID, measurement string, value float64) {
	c.WritePoint(MeasurementEntity,
		map[string]string{
			"entity_id": deviceID,
			"metric":    measurement,
		},
		map[string]any{"value": value},
		time.Now(),
	)
}

// WritePoint queues a point. Points written while disconnected are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
