// Package influxdb records Tuya bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// written:
//
//   - light_state: tag light_id; fields on, brightness. One point per
//     published light state.
//   - tuya_datapoint: tags device_id, dp_id, dp_type, direction (rx/tx);
//     field value. One point per datapoint received from or written to a
//     device.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLightState("desk-lamp", true, 50)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are reported via SetOnError.
package influxdb
