// Package api serves the hub over HTTP.
//
// Endpoints:
//
//   - GET /health - plain text "Server is running"
//   - GET /ws - WebSocket upgrade; all session traffic flows here
//   - GET /api/health - JSON status with live session and connection counts
//   - GET /api/sessions - list live sessions
//   - GET /api/sessions/{code} - one session's participants
//
// Other handlers, such as /metrics and /mcp, are attached with Mount.
//
// The JSON API is read-only and never includes coordinates. A participant
// entry only says whether a location has been reported:
//
//	{
//	  "sessionId": "ABC123",
//	  "createdAt": "2026-10-16T09:00:00Z",
//	  "online": 1,
//	  "users": [
//	    {"username": "alice", "online": true, "hasLocation": true, ...}
//	  ]
//	}
//
// The session list accepts sort=created|online, order=asc|desc (default
// desc) and limit=N. Errors are returned as {"error": "..."}.
package api
