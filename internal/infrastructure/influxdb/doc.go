// Package influxdb records lamp state history in InfluxDB v2.
//
// Every registry event becomes one point in the lamp_state measurement,
// tagged by lamp id, model and event source, so brightness, colour and
// power can be graphed over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLampState(influxdb.LampSample{LampID: id, Power: true, Bright: 80}, time.Now())
//
// Writes are batched (influxdb.batch_size, influxdb.flush_interval) and
// never block the caller; write failures are reported through SetOnError.
package influxdb
