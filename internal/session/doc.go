// Package session owns the client session to a realtime database server.
//
// Ownership boundary:
// - connection lifecycle and reconnect backoff
// - request numbering and response correlation
// - listen multiplexing through tags and verbatim replay after reconnect
// - classification of server pushes into operation events
//
// All session state is owned by one run goroutine. Public methods hand work to it
// over a channel and wait for the request outcome.
//
// Restoration order after every successful connect is fixed: auth first, then
// listens in registration order, then outstanding requests in admission order.
package session
