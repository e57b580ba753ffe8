// Package relay connects the device registry to the message buses.
//
// Every registry event is fanned out to the configured sinks:
//
//   - MQTT: retained state JSON on yeelight/state/<id>; a removed lamp
//     clears its retained state and is announced on yeelight/removed/<id>
//   - NATS: state JSON on yeelight.lamp.<id>.state
//   - InfluxDB: one lamp_state point per event
//   - SQLite: one state history row per event
//
// Commands flow the other way. A CommandMessage published on
// yeelight/command/<id> (or sent as a NATS request to
// yeelight.lamp.<id>.command) is sent to the lamp, and an AckMessage with
// the lamp's reply is published on yeelight/ack/<id> (or returned as the
// NATS reply).
//
// Every sink is optional; a relay with none of them does nothing.
package relay
