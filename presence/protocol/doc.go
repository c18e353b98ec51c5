// Package protocol defines the JSON frames exchanged between clients and the
// hub, one object per WebSocket text frame.
//
// Inbound: create_session, join_session, location, chat_message.
// Outbound: session_created, session_joined, users_update, location_update,
// chat_message and error.
//
// Chat delivery is at-least-once as far as consumers are concerned: the hub
// echoes chat to every connection in the session, sender included, and
// clients de-duplicate on (from, to, timestamp).
package protocol
