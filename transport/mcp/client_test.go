package mcp

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/locshare/api"
	"github.com/wricardo/locshare/presence/session"
)

type nopConn struct{ id string }

func (c nopConn) ID() string          { return c.id }
func (c nopConn) Send(_ []byte) bool { return true }
func (c nopConn) Close()              {}

func newAPI(t *testing.T) (*session.Registry, *Client) {
	t.Helper()
	reg := session.NewRegistry()
	srv := httptest.NewServer(api.NewServer(reg, nil, nil))
	t.Cleanup(srv.Close)
	return reg, NewClient(srv.URL + "/")
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", result.Content[0])
	return text.Text, result.IsError
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:10000/")
	assert.Equal(t, "http://localhost:10000", client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.GetMCPServer())
}

func TestClient_ListSessions(t *testing.T) {
	reg, client := newAPI(t)

	text, isErr := callTool(t, client.handleListSessions, nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "No live sessions")

	sess, err := reg.Create(nopConn{"a"}, "alice", "", nil)
	require.NoError(t, err)
	_, _, err = reg.Join(sess.Code, nopConn{"b"}, "bob", "", nil)
	require.NoError(t, err)
	_, _, err = reg.Join("PARK42", nopConn{"c"}, "carol", "", nil)
	require.NoError(t, err)

	text, isErr = callTool(t, client.handleListSessions, map[string]any{"sort": "online", "limit": 1})
	assert.False(t, isErr)
	assert.Contains(t, text, "Live Sessions (1 of 2, sorted by online desc)")
	assert.Contains(t, text, sess.Code+": 2 online / 2 participants")
	assert.NotContains(t, text, "PARK42")

	text, isErr = callTool(t, client.handleListSessions, map[string]any{"order": "sideways"})
	assert.True(t, isErr)
	assert.Contains(t, text, "order must be asc or desc")
}

func TestClient_GetSession(t *testing.T) {
	reg, client := newAPI(t)

	conn := nopConn{"a"}
	sess, err := reg.Create(conn, "alice", "#ff0000", func(tx *session.Tx) error {
		_, err := tx.SetLocation("alice", session.Location{Latitude: 48.85, Longitude: 2.35}, time.Now())
		return err
	})
	require.NoError(t, err)
	_, _, err = reg.Join(sess.Code, nopConn{"b"}, "bob", "", nil)
	require.NoError(t, err)

	text, isErr := callTool(t, client.handleGetSession, map[string]any{"session_id": sess.Code})
	assert.False(t, isErr)
	assert.Contains(t, text, "Session "+sess.Code)
	assert.Contains(t, text, "Online: 2 of 2")
	assert.Contains(t, text, "- alice [#ff0000]: online, sharing location")
	assert.Contains(t, text, "- bob: online, no location yet")
	assert.NotContains(t, text, "48.85")

	text, isErr = callTool(t, client.handleGetSession, map[string]any{"session_id": "NOPE00"})
	assert.True(t, isErr)
	assert.Contains(t, text, "session not found")

	_, isErr = callTool(t, client.handleGetSession, map[string]any{})
	assert.True(t, isErr)
}

func TestClient_ServerHealth(t *testing.T) {
	reg, client := newAPI(t)
	_, err := reg.Create(nopConn{"a"}, "alice", "", nil)
	require.NoError(t, err)

	text, isErr := callTool(t, client.handleServerHealth, nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "Status: healthy")
	assert.Contains(t, text, "Live sessions: 1")
	assert.Contains(t, text, "Open connections: 0")
}

func TestClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	client := NewClient(url)
	_, isErr := callTool(t, client.handleServerHealth, nil)
	assert.True(t, isErr)
}
