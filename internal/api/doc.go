// Package api implements the HTTP REST API and WebSocket server of the
// lamp controller.
//
// This package provides:
//   - REST endpoints to list, inspect and forget lamps, send raw methods to
//     several lamps at once, toggle music mode and read state history
//   - A WebSocket hub that pushes every lamp state change to connected
//     clients and accepts method calls
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Lamp identifiers
//
// Lamp ids in paths and request bodies are accepted either as decimal
// integers or as the 0x-prefixed hex form the lamps announce themselves
// with, so /api/v1/lamps/0x0000000002b7e9ba and /api/v1/lamps/45607354
// name the same lamp.
//
// # WebSocket messages
//
// Every message is a JSON object {"type": ..., "data": ...}:
//
//	server -> client  new-lamp-state     data: lamp state
//	client -> server  request-all-lamps  (no data)
//	client -> server  call-lamp-method   data: {"method", "args", "targets"}
//	server -> client  error              data: {"message", "lampId"?}
//	client -> server  ping               answered with pong
package api
