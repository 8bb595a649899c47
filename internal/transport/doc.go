// Package transport owns the connection to the realtime database server.
//
// Ownership boundary:
// - the Transport contract consumed by the session
// - the websocket implementation (handshake, keepalive, frame splitting)
//
// A Transport is single use: the session drops it after Done and dials a new one.
package transport
