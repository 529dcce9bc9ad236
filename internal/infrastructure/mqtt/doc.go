// Package mqtt provides MQTT client connectivity for the Tuya bridge.
//
// A single broker connection carries two kinds of traffic:
//
//	Gray Logic Core ↔ graylogic/{command,ack,state,health}/tuya/... ↔ bridge
//	bridge ↔ tuya/{device}/dp/{report,set} ↔ Tuya MCU gateway
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with QoS and payload validation
//   - Last Will and Testament for offline detection
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
//	    Topic:    "graylogic/health/tuya",
//	    Payload:  lwtPayload,
//	    QoS:      1,
//	    Retained: true,
//	}))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
