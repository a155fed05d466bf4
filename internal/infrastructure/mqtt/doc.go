// Package mqtt provides the broker connection for Fieldlink Core.
//
// Fieldlink talks to Tasmota-style devices through an MQTT broker:
//
//	device --tele/<id>/SENSOR, tele/<id>/LWT, stat/<id>/POWER--> broker --> Fieldlink
//	Fieldlink --cmnd/<id>/POWER--> broker --> device
//
// The Client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration after reconnect, panic recovery around handlers and a
// retained presence message on fieldlink/status (with a matching LWT).
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for _, pattern := range mqtt.Topics{}.IngestSubscriptions() {
//	    if err := client.Subscribe(pattern, 1, handle); err != nil {
//	        return err
//	    }
//	}
package mqtt
