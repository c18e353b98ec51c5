// Package session holds the in-memory presence state of the hub.
//
// The session package implements:
//   - Registry: process-wide mapping from session code to Session
//   - Session: a named group of connections plus per-username presence
//   - Participant: online flag and last known location for one username
//
// Session Codes:
//
// Generated codes are six upper case alphanumeric characters drawn from
// crypto/rand and checked against live sessions before use. Lookups are
// case-insensitive; NormalizeCode produces the canonical form.
//
// Lifecycle:
//
// A session is created by Registry.Create or implicitly by the first
// Registry.Join for an unknown code. Participants survive disconnects with
// Online set to false and their last location intact. Registry.Leave deletes
// a session as its last online participant leaves, discarding its history; a
// later join for the same code starts from an empty session.
//
// Concurrency:
//
// Each Session has its own lock and all access goes through Session.Update,
// which hands the callback a Tx. The registry lock is taken first and only
// for lookup or insertion, so work in one session never waits on another.
// Callbacks passed to Create, Join, Leave and Update run with the session
// lock held, which is where
// the router performs fan-out so every recipient sees updates in the order
// they were applied.
//
// Usage:
//
//	reg := session.NewRegistry()
//
//	sess, err := reg.Create(conn, "alice", "#ff0000", nil)
//	if err != nil {
//		return err
//	}
//
//	_, res, err := reg.Join(strings.ToLower(sess.Code), other, "bob", "", nil)
//
//	err = sess.Update(func(tx *session.Tx) error {
//		for _, b := range tx.Bindings() {
//			b.Conn.Send(frame)
//		}
//		return nil
//	})
package session
