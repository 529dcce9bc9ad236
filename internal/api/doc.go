// Package api provides the HTTP REST API of the Tuya bridge.
//
// It exposes light and device snapshots, a state endpoint that forwards to
// the bridge as a command, and health and metrics for monitoring.
//
// Routes:
//
//	GET  /api/v1/health                    component health (200 ok / 503 degraded)
//	GET  /api/v1/metrics                   runtime, bridge and database metrics
//	GET  /api/v1/lights                    all light snapshots
//	GET  /api/v1/lights/{id}               one light
//	PUT  /api/v1/lights/{id}/state         change a light, see LightStateRequest
//	GET  /api/v1/devices                   devices with hub statistics
//	GET  /api/v1/devices/{id}              one device with last-known datapoints
//	GET  /api/v1/devices/{id}/datapoints   datapoints recorded for a device id
//
// State changes go through the same command path as MQTT commands, so the
// loop guard and transitions behave identically for both. The API does not
// publish acknowledgments; the HTTP response is the acknowledgment.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
