// Package paho implements the default MQTT transport over the Eclipse Paho
// client.
//
// The transport maps paho's connection callbacks onto mqmate lifecycle
// events: OnConnect becomes a connected event, ConnectionLost becomes a
// disconnected event, and paho's reconnecting callback becomes a
// reconnecting event with an attempt counter. Paho never gives up on
// reconnection while it is enabled, so an offline event is only emitted
// when a connection drops with AutoReconnect disabled.
//
// Granted subscriptions are tracked and restored automatically after every
// reconnect, so handlers keep receiving messages across connection drops
// without any caller involvement.
//
// Example usage:
//
//	transport, err := paho.NewTransport("tcp://localhost:1883",
//	    paho.WithClientID("sensor-gateway"),
//	    paho.WithCredentials("user", "secret"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	manager := messaging.NewConnectionManager(transport)
//	queue := messaging.NewDeliveryQueue(transport, manager)
//	manager.AddStateListener(queue)
package paho
