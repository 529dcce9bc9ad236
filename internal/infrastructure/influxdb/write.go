package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementLightState = "light_state"
	measurementDatapoint  = "tuya_datapoint"
)

// WriteLightState records a light's published on/brightness values.
// Called each time the bridge publishes a state message for the light.
//
// Example:
//
//	client.WriteLightState("desk-lamp", true, 50)
func (c *Client) WriteLightState(lightID string, on bool, brightness float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightStatePoint(lightID, on, brightness, c.now()))
}

// WriteDatapoint records one datapoint exchanged with a Tuya device.
// direction is "rx" for reports from the device and "tx" for writes to it.
// Boolean datapoints carry 0 or 1 as value.
func (c *Client) WriteDatapoint(deviceID string, dpID uint8, dpType string, value int64, direction string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(datapointPoint(deviceID, dpID, dpType, value, direction, c.now()))
}

func lightStatePoint(lightID string, on bool, brightness float64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementLightState,
		map[string]string{
			"light_id": lightID,
		},
		map[string]interface{}{
			"on":         on,
			"brightness": brightness,
		},
		ts,
	)
}

func datapointPoint(deviceID string, dpID uint8, dpType string, value int64, direction string, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementDatapoint,
		map[string]string{
			"device_id": deviceID,
			"dp_id":     strconv.Itoa(int(dpID)),
			"dp_type":   dpType,
			"direction": direction,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}
