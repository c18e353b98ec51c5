// Package websocket is the WebSocket transport for the presence hub.
//
// The package uses a hub-and-spoke model where a central Hub tracks every
// open connection. Each connection runs two goroutines:
//
//   - readPump reads frames, applies the per-connection rate limit, and
//     hands them to the connection's router.Peer in arrival order.
//   - writePump drains the connection's bounded send buffer, one text
//     message per frame, and sends pings to keep the connection alive.
//
// Client implements session.Conn. Send never blocks: when the buffer is full
// it reports failure and the router closes the connection. Closing the send
// buffer makes writePump flush, send a close message and drop the socket,
// which in turn ends readPump and runs the disconnect path.
//
// Usage:
//
//	hub := websocket.NewHub(r, logger, m, websocket.DefaultOptions())
//	go hub.Run(ctx)
//
//	mux.HandleFunc("/ws", hub.ServeWS)
//
//	<-ctx.Done()
//	hub.Wait()
package websocket
