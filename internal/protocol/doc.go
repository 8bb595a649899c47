// Package protocol owns the realtime database wire contract.
//
// Ownership boundary:
// - request builders and validation
// - data/control frame encoding and decoding
// - server status codes and their fixed reasons
//
// Request correlation numbers are assigned by the session, not here.
package protocol
