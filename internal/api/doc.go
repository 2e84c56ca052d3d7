// Package api serves a small local HTTP API over a running grill session.
//
// Routes, all under /api/v1:
//
//	GET  /health                 connection state and message counters; 503 while the broker is down
//	GET  /devices                every grill on the account with its last state
//	GET  /devices/{id}           one grill
//	POST /devices/{id}/commands  {"action": "set_temperature", "value": 225}
//	GET  /ws                     WebSocket; subscribe to "device.updated"
//
// The Server is also a grill.Observer: register it for grill.AllDevices and
// every state update is pushed to subscribed WebSocket clients.
//
// There is no authentication. Bind the listener to a trusted interface.
package api
