// Command locshare runs the live location sharing hub.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket hub, the
//     inspection API, Prometheus metrics, and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against a running hub, or spins up an
//     internal one if none is reachable
//
// Configuration comes from the environment (optionally a .env file); flags
// override individual values. An ngrok tunnel can expose the hub publicly
// during development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/locshare/api"
	"github.com/wricardo/locshare/config"
	"github.com/wricardo/locshare/logging"
	"github.com/wricardo/locshare/metrics"
	"github.com/wricardo/locshare/presence/router"
	"github.com/wricardo/locshare/presence/session"
	"github.com/wricardo/locshare/transport/mcp"
	"github.com/wricardo/locshare/transport/websocket"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/time/rate"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "locshare"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "share live locations and chat within short session codes",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load before reading the environment"},
			&cli.StringFlag{Name: "host", Usage: "HTTP server host (HOST)"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port (PORT)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (LOG_LEVEL)"},
			&cli.StringFlag{Name: "log-format", Usage: "console or json (LOG_FORMAT)"},
			&cli.BoolFlag{Name: "ngrok", Usage: "expose the server through an ngrok tunnel (NGROK_ENABLED)"},
			&cli.StringFlag{Name: "ngrok-authtoken", Usage: "ngrok auth token (NGROK_AUTHTOKEN)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain (NGROK_DOMAIN)"},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "run the WebSocket hub and HTTP API (default)",
				Action:  runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "run an MCP stdio server for inspecting a hub",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Usage: "base URL of a running hub (default: the configured local address)"},
				},
				Action: runStdioMCP,
			},
		},
	}
}

// loadConfig reads the dotenv file and environment, then applies flags that
// were set explicitly.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	if err := godotenv.Load(cmd.String("env-file")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load %s: %w", cmd.String("env-file"), err)
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-authtoken") {
		cfg.NgrokAuthToken = cmd.String("ngrok-authtoken")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app is one fully wired hub.
type app struct {
	registry *session.Registry
	hub      *websocket.Hub
	server   *api.Server
}

// newApp wires the registry, router, hub and HTTP routes. mcpURL is the base
// URL the /mcp endpoint proxies to.
func newApp(cfg config.Config, logger *zap.Logger, promReg *prometheus.Registry, mcpURL string) *app {
	m := metrics.New(promReg)
	registry := session.NewRegistry()
	m.WatchSessions(registry.Count)

	rt := router.New(registry, logger.Named("router"), m)
	hub := websocket.NewHub(rt, logger.Named("websocket"), m, hubOptions(cfg))

	srv := api.NewServer(registry, hub, logger.Named("http"))
	srv.Mount("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv.Mount("/mcp", mcpHandler(mcp.NewClient(mcpURL).GetMCPServer()))

	return &app{registry: registry, hub: hub, server: srv}
}

func hubOptions(cfg config.Config) websocket.Options {
	return websocket.Options{
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
		PingPeriod:      cfg.PingPeriod,
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      cfg.SendBuffer,
		RateLimit:       rate.Limit(cfg.RateLimit),
		RateBurst:       cfg.RateBurst,
	}
}

// mcpHandler serves single JSON-RPC messages over POST.
func mcpHandler(mcpServer *server.MCPServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)
		if response == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(responseData)
	})
}

func newPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe starts the HTTP server and, if enabled, an ngrok tunnel, and
// shuts both down when ctx is cancelled.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a := newApp(cfg, logger, newPrometheusRegistry(), cfg.LocalURL())

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	servers := []*http.Server{newHTTPServer(a.server)}
	errCh := make(chan error, 2)

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	go func() {
		errCh <- servers[0].Serve(listener)
	}()

	base := cfg.LocalURL()
	logger.Info("HTTP server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("websocket", "ws"+base[len("http"):]+"/ws"),
		zap.String("api", base+"/api/sessions"),
		zap.String("metrics", base+"/metrics"),
		zap.String("mcp", base+"/mcp"),
		zap.String("version", Version))

	if cfg.NgrokEnabled {
		tunnelServer, err := startNgrok(ctx, cfg, logger, a.server, errCh)
		if err != nil {
			// The local server keeps running without the tunnel.
			logger.Error("failed to start ngrok tunnel", zap.Error(err))
		} else {
			servers = append(servers, tunnelServer)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", zap.Error(err))
		}
	}

	// Hijacked WebSocket connections are not covered by Shutdown.
	stopHub()
	done := make(chan struct{})
	go func() {
		a.hub.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("server stopped")
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for websocket connections to close")
	}
	return nil
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// startNgrok serves h through an ngrok tunnel. Serve errors are reported on
// errCh only if they are not http.ErrServerClosed.
func startNgrok(ctx context.Context, cfg config.Config, logger *zap.Logger, h http.Handler, errCh chan<- error) (*http.Server, error) {
	if cfg.NgrokAuthToken == "" {
		return nil, errors.New("ngrok enabled but no auth token provided (use --ngrok-authtoken or NGROK_AUTHTOKEN)")
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthToken))
	if err != nil {
		return nil, err
	}

	publicURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", publicURL),
		zap.String("websocket", "wss"+publicURL[len("https"):]+"/ws"),
		zap.String("mcp", publicURL+"/mcp"))

	srv := newHTTPServer(h)
	go func() {
		if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ngrok: %w", err)
		}
		logger.Info("ngrok tunnel closed")
	}()
	return srv, nil
}

// runStdioMCP runs an MCP stdio server. It uses the hub at --api-url when one
// answers; otherwise it starts an internal hub on a random loopback port and
// targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	baseURL := cmd.String("api-url")
	if baseURL == "" {
		baseURL = cfg.LocalURL()
	}

	if !reachable(ctx, baseURL) {
		logger.Info("no hub found, starting internal HTTP server", zap.String("checked", baseURL))

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("listen for internal server: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		a := newApp(cfg, logger, newPrometheusRegistry(), baseURL)
		hubCtx, stopHub := context.WithCancel(context.Background())
		defer stopHub()
		go a.hub.Run(hubCtx)

		srv := newHTTPServer(a.server)
		go func() {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	logger.Info("MCP stdio server ready", zap.String("api", baseURL))
	stdio := server.NewStdioServer(mcp.NewClient(baseURL).GetMCPServer())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

// reachable reports whether a hub answers at baseURL.
func reachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
