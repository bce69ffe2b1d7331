// Package mqtt connects the LCN bridge to the Gray Logic MQTT bus.
//
// Core sends entity commands on graylogic/command/lcn/{unique_id}; the
// bridge answers on graylogic/ack/lcn/{unique_id}, publishes retained state
// on graylogic/state/lcn/{unique_id} and connection health on
// graylogic/health/lcn/{entry_id}. Topics builds these names.
//
// The client keeps a retained status message on
// graylogic/system/status/{client_id}. The broker replaces it with an
// offline status through the Last Will if the bridge dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("lcn"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// Subscriptions are restored automatically after a reconnect.
package mqtt
