// Package router turns decoded client frames into session mutations and
// fan-out.
//
// Every connection gets a Peer from Router.Open. A Peer moves through three
// states:
//
//	Unbound --create_session/join_session--> Bound --disconnect--> Closed
//	Unbound --disconnect--> Closed
//
// Only create_session and join_session are accepted while Unbound; location
// and chat_message require a binding. A bound connection never rebinds.
//
// Fan-out happens inside Session.Update so that every connection in a
// session observes that session's events in the same order. Conn.Send never
// blocks; a connection whose buffer is full is closed and goes through the
// normal disconnect path.
//
// Rejected frames are answered with an error frame and leave both the
// connection and the session untouched:
//
//	{"type":"error","code":"not_joined","message":"location requires joining a session first"}
package router
