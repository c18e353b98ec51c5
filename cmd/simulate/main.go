// Command simulate drives a running hub with fake participants. Each one
// joins the same session and random-walks around a start point, reporting
// its location on every tick and chatting now and then. It is meant for
// manual load checks and for watching a session from a real client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/locshare/logging"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "simulate participants walking around one session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://127.0.0.1:10000/ws", Usage: "hub WebSocket URL"},
			&cli.IntFlag{Name: "participants", Aliases: []string{"n"}, Value: 5, Usage: "number of simulated participants"},
			&cli.StringFlag{Name: "session", Usage: "join this session code instead of creating one"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "time between location reports"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long (default: until interrupted)"},
			&cli.IntFlag{Name: "chat-every", Value: 10, Usage: "send a chat message every N ticks (0 disables)"},
			&cli.FloatFlag{Name: "lat", Value: 37.7749, Usage: "start latitude"},
			&cli.FloatFlag{Name: "lng", Value: -122.4194, Usage: "start longitude"},
			&cli.FloatFlag{Name: "step", Value: 15, Usage: "meters moved per tick"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger, err := logging.New(cmd.String("log-level"), "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	opts := Options{
		URL:          cmd.String("url"),
		Participants: int(cmd.Int("participants")),
		Session:      cmd.String("session"),
		Interval:     cmd.Duration("interval"),
		ChatEvery:    int(cmd.Int("chat-every")),
		Start:        Point{Lat: cmd.Float("lat"), Lng: cmd.Float("lng")},
		StepMeters:   cmd.Float("step"),
		Seed:         uint64(time.Now().UnixNano()),
	}

	res, err := Run(ctx, opts, logger)
	if err != nil {
		return err
	}
	logger.Info("simulation finished",
		zap.String("session", res.SessionID),
		zap.Int64("frames_sent", res.Sent),
		zap.Int64("frames_received", res.Received))
	return nil
}
