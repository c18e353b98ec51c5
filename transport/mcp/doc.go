// Package mcp exposes the hub's inspection API as Model Context Protocol
// tools.
//
// The Client is a thin proxy: every tool call becomes an HTTP request to the
// server's /api endpoints, and the JSON answer is rendered as text for the
// model. Nothing here touches session state directly, so the same Client
// works over stdio against a remote server and behind the server's own /mcp
// endpoint.
//
// Tools:
//   - list_sessions: live sessions with participant and online counts
//   - get_session: one session's participants, never their coordinates
//   - server_health: live session and open connection counts
//
// Usage:
//
//	client := mcp.NewClient("http://127.0.0.1:10000")
//	server.ServeStdio(client.GetMCPServer())
package mcp
