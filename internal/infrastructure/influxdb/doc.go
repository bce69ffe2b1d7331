// Package influxdb stores LCN entity telemetry in InfluxDB v2.
//
// Every state change of an entity becomes a point in the lcn_entity
// measurement, tagged with entity_id and metric ("on", "brightness").
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric(uniqueID, "brightness", 50)
//
// Writes are batched and non-blocking; failures arrive on the callback set
// with SetOnError.
package influxdb
