// Package tuya implements the Tuya dimmer bridge for Gray Logic.
//
// Tuya MCU devices expose their functions as typed "datapoints" (dpId, type,
// value). This package keeps an abstract dimmable light (on/off plus a
// normalised brightness) in sync with those datapoints in both directions.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────────┐
//	│   Gray Logic    │   MQTT   │   Tuya Bridge   │   MQTT   │  Tuya MCU    │
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│  gateway     │
//	└─────────────────┘          └─────────────────┘          └──────────────┘
//
// Every device gets a Hub that fans inbound datapoints out to the listeners
// registered for their id and forwards outbound writes to the device
// transport. Each configured light pairs a light.State with a Light, which
// performs the actual synchronisation:
//
//   - Inbound: dimmer values are clamped into [lower, upper], linearised
//     against the configured (possibly inverted) range and gamma is removed.
//     Switch values set the on/off state.
//   - Outbound: the gamma-corrected brightness of the light is scaled back
//     into the device range, rounding up so that a lit light never
//     quantises to 0.
//
// # Loop Guard
//
// A value written to a device is echoed back by the MCU. The LoopGuard is a
// single-shot flag that makes sure such an echo is never applied as a new
// command, and that a state change caused by the device is never written
// back to it.
//
// # Thread Safety
//
// Hubs, lights and light states are owned by the Bridge event loop. Every
// inbound datapoint, command and transition tick runs on that single
// goroutine, so the synchronisation types carry no locks of their own.
// The exported Bridge methods are safe for concurrent use.
package tuya
