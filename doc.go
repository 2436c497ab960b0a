// Package beepit provides a real-time message dispatch server for chat-style
// applications.
//
// Clients connect over WebSocket, join topics (rooms), publish messages to a
// topic and send direct messages to a single connection. The server enforces
// per-client admission limits and keeps one slow or misbehaving client from
// affecting the others.
//
// # Architecture
//
// Every connection is served by an actor that owns its subscriptions, its
// sequence counter and a bounded outbound queue. Actors share three services:
//
//   - a topic registry mapping topics to subscribed connections
//   - a rate limiter holding one token bucket per (client, channel)
//   - a router that admits, fans out and enqueues messages
//
// A supervisor creates and discards actors, assigns connection ids and turns
// a failed actor into an ordinary disconnect. Failed actors are never
// restarted; the client reconnects.
//
// # Quick Start
//
//	import "github.com/julianarecha/beepit-server/ws"
//
//	server, err := ws.New(ws.NewConfig(":8080", ws.Origins("https://chat.example.com")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
//
// The cmd/beepitd binary wraps the same server with a YAML config file,
// structured logging and SIGHUP reload of the limits.
//
// # Protocol
//
// Frames are JSON text messages. A client sends:
//
//	{"type":"subscribe","topic":"room1"}
//	{"type":"unsubscribe","topic":"room1"}
//	{"type":"members","topic":"room1"}
//	{"type":"publish","topic":"room1","kind":"text","payload":"hello"}
//	{"type":"direct","to":"<connection id>","kind":"image","payload":{...}}
//
// and receives welcome, subscribed, unsubscribed, message, ack and error
// frames. Messages from one origin carry an increasing seq and arrive at
// every recipient in that order. The publisher never receives its own topic
// messages; it gets an ack with the number of recipients instead.
//
// # Limits
//
//   - Rate limiting per (client id, topic); direct messages share one budget
//   - A rejected message gets an error frame with code rate_limited
//   - Outbound queues are bounded; overflow drops the oldest or newest message
//   - A malformed frame closes only the offending connection (1002)
//   - A frame above the size limit closes the connection (1009)
//   - On shutdown, queued messages are flushed within the drain grace period
package beepit
