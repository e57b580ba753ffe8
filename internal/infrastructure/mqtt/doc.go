// Package mqtt connects the controller to an MQTT broker.
//
// The relay uses it to mirror lamp state onto retained topics and to take
// commands from home-automation systems that already speak MQTT:
//
//	yeelight/state/<id>     retained DeviceState JSON
//	yeelight/command/<id>   {"method": "set_bright", "args": [50, "smooth", 500]}
//	yeelight/ack/<id>       result of the last command
//	yeelight/system/status  retained online/offline, with a last will
//
// The prefix comes from mqtt.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllLampCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := topics.LampIDFromTopic(topic)
//	        ...
//	    })
package mqtt
