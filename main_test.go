package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/locshare/config"
	"go.uber.org/zap/zaptest"
)

func TestConstants(t *testing.T) {
	assert.Equal(t, "1.0.0", Version)
	assert.Equal(t, "locshare", AppName)
}

func TestCommandAliases(t *testing.T) {
	cmd := newCommand()
	names := map[string][]string{}
	for _, sub := range cmd.Commands {
		names[sub.Name] = sub.Aliases
	}
	assert.Equal(t, []string{"server", "http"}, names["serve"])
	assert.Equal(t, []string{"stdio-mcp", "mcp-stdio"}, names["mcp"])
}

func runLoadConfig(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	cmd := newCommand()
	var cfg config.Config
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		var err error
		cfg, err = loadConfig(c)
		return err
	}
	err := cmd.Run(context.Background(), append([]string{AppName, "--env-file", "testdata-missing.env"}, args...))
	return cfg, err
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := runLoadConfig(t)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)

	cfg, err = runLoadConfig(t, "--port", "9999", "--log-level", "debug", "--host", "0.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.LocalURL())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("PING_PERIOD", "2m")
	t.Setenv("PONG_WAIT", "1m")

	_, err := runLoadConfig(t)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewApp(t *testing.T) {
	cfg, err := runLoadConfig(t)
	require.NoError(t, err)

	a := newApp(cfg, zaptest.NewLogger(t), newPrometheusRegistry(), "http://127.0.0.1:1")
	srv := httptest.NewServer(a.server)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "Server is running", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "locshare_sessions 0")
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0.0.1"}}}`
	resp, err = http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(initialize))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"locshare"`)
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	assert.True(t, reachable(context.Background(), srv.URL))
	srv.Close()
	assert.False(t, reachable(context.Background(), srv.URL))
}
