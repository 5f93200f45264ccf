// Package mqtt publishes feeder presence and status to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained status publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health reporting
//
// Each feeder owns one retained status topic, tsfeed/{store}/status. The
// broker holds the latest document there, so a dashboard subscribing late
// still sees whether the feeder is online and what it last delivered. If
// the feeder dies without disconnecting, the broker replaces that document
// with the LWT offline notice.
//
// # Usage
//
//	topics := mqtt.Topics{Store: cfg.Store.StoreName}
//	client, err := mqtt.Connect(cfg.MQTT, topics.Status())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(topics.Status(), payload)
package mqtt
