// Package influxdb exports grill telemetry to InfluxDB 2.x.
//
// It wraps influxdb-client-go's non-blocking write API. Points are batched
// according to batch_size and flush_interval in config.yaml; write failures
// surface asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoint("grill_status",
//	    map[string]string{"device_id": "grill-1"},
//	    map[string]any{"grill": 225, "set": 225},
//	    time.Now())
package influxdb
