// Package yeelight implements the Yeelight LAN control protocol.
//
// It owns everything that touches a lamp directly: decoding the
// line-delimited JSON frames a lamp sends back, translating the lamp's
// abbreviated wire properties into a typed DeviceState, building validated
// commands, and holding one TCP session per lamp.
//
// # Architecture
//
//	┌──────────────┐  Send(cmd)   ┌──────────────┐  :55443 JSON+CRLF  ┌──────┐
//	│   Registry   │─────────────►│   Session    │◄──────────────────►│ Lamp │
//	│ (device pkg) │◄─────────────│              │                    │      │
//	└──────────────┘  OnChange    │ MusicServer ◄┼────────────────────┤      │
//	                              └──────────────┘   lamp dials back  └──────┘
//
// # Control Protocol
//
// Each command is one JSON object terminated by CRLF:
//
//	{"id":1,"method":"set_bright","params":[50,"smooth",500]}
//
// A lamp answers with a result, an error, or an unsolicited property push:
//
//	{"id":1,"result":["ok"]}
//	{"id":1,"error":{"code":-1,"message":"unsupported method"}}
//	{"method":"props","params":{"power":"on","bright":"10"}}
//
// Replies carry no usable correlation, so a Session treats the next result
// or error frame as the reply to the command it just wrote and only lets one
// command be in flight at a time.
//
// # Music Mode
//
// A lamp limits the rate of commands on its control socket. In music mode
// the controller opens a TCP listener, tells the lamp where it is with
// set_music, and then streams commands over the connection the lamp opens
// back. No replies are sent on that channel.
//
// # Thread Safety
//
// Session and MusicServer are safe for concurrent use. Builders and the
// translator are pure functions.
package yeelight
