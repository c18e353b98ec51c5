package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const metersPerDegree = 111_320.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Options configures a simulation run.
type Options struct {
	URL          string
	Participants int
	// Session joins an existing code instead of creating one.
	Session    string
	Interval   time.Duration
	ChatEvery  int
	Start      Point
	StepMeters float64
	Seed       uint64
}

// Result summarizes a finished run.
type Result struct {
	SessionID string
	Sent      int64
	Received  int64
}

type walker struct {
	name   string
	conn   *websocket.Conn
	logger *zap.Logger
	rng    *rand.Rand
	pos    Point

	writeMu sync.Mutex
}

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
}

// Run connects opts.Participants walkers to one session and moves them
// around opts.Start until ctx is cancelled.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (Result, error) {
	if opts.Participants < 1 {
		return Result{}, errors.New("need at least one participant")
	}
	if opts.Interval <= 0 {
		return Result{}, errors.New("interval must be positive")
	}

	var stats counters
	walkers := make([]*walker, 0, opts.Participants)
	defer func() {
		for _, w := range walkers {
			w.close()
		}
	}()

	code := opts.Session
	for i := 0; i < opts.Participants; i++ {
		w, err := dial(ctx, opts, i, logger)
		if err != nil {
			return Result{}, err
		}
		walkers = append(walkers, w)

		joined, err := w.join(code)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", w.name, err)
		}
		code = joined
	}
	logger.Info("participants joined", zap.String("session", code), zap.Int("participants", len(walkers)))

	var wg sync.WaitGroup
	for i, w := range walkers {
		peer := walkers[(i+1)%len(walkers)].name
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.readLoop(&stats)
		}()
		go func() {
			defer wg.Done()
			w.walk(ctx, opts, peer, &stats)
		}()
	}

	<-ctx.Done()
	for _, w := range walkers {
		w.close()
	}
	wg.Wait()

	return Result{SessionID: code, Sent: stats.sent.Load(), Received: stats.received.Load()}, nil
}

func dial(ctx context.Context, opts Options, i int, logger *zap.Logger) (*walker, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	resp.Body.Close()

	name := "sim-" + uuid.NewString()[:8]
	return &walker{
		name:   name,
		conn:   conn,
		logger: logger.With(zap.String("username", name)),
		rng:    rand.New(rand.NewPCG(opts.Seed, uint64(i))),
		pos:    opts.Start,
	}, nil
}

// join creates a session when code is empty, otherwise joins it. It returns
// the session code the server confirmed.
func (w *walker) join(code string) (string, error) {
	msg := map[string]any{"type": "create_session", "username": w.name, "color": w.color()}
	want := "session_created"
	if code != "" {
		msg = map[string]any{"type": "join_session", "sessionId": code, "username": w.name, "color": w.color()}
		want = "session_joined"
	}
	if err := w.send(msg); err != nil {
		return "", err
	}

	_ = w.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = w.conn.SetReadDeadline(time.Time{}) }()
	for {
		var reply struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
			Code      string `json:"code"`
			Message   string `json:"message"`
		}
		if err := w.conn.ReadJSON(&reply); err != nil {
			return "", fmt.Errorf("waiting for %s: %w", want, err)
		}
		switch reply.Type {
		case want:
			return reply.SessionID, nil
		case "error":
			return "", fmt.Errorf("server rejected %s: %s %s", msg["type"], reply.Code, reply.Message)
		}
	}
}

func (w *walker) color() string {
	return fmt.Sprintf("#%06x", w.rng.IntN(0x1000000))
}

func (w *walker) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *walker) readLoop(stats *counters) {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		stats.received.Add(1)

		var msg struct {
			Type string `json:"type"`
			Code string `json:"code"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "error" {
			w.logger.Warn("server error frame", zap.String("code", msg.Code))
		}
	}
}

func (w *walker) walk(ctx context.Context, opts Options, peer string, stats *counters) {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.pos = step(w.pos, opts.StepMeters, w.rng)
			err := w.send(map[string]any{
				"type": "location",
				"location": map[string]any{
					"latitude":  w.pos.Lat,
					"longitude": w.pos.Lng,
					"accuracy":  5 + w.rng.Float64()*10,
					"timestamp": now.UnixMilli(),
				},
			})
			if err != nil {
				w.logger.Debug("send location", zap.Error(err))
				return
			}
			stats.sent.Add(1)

			if opts.ChatEvery > 0 && tick%opts.ChatEvery == 0 && peer != w.name {
				err := w.send(map[string]any{
					"type":      "chat_message",
					"to":        peer,
					"text":      fmt.Sprintf("at %.5f, %.5f", w.pos.Lat, w.pos.Lng),
					"timestamp": now.UnixMilli(),
				})
				if err != nil {
					return
				}
				stats.sent.Add(1)
			}
		}
	}
}

func (w *walker) close() {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	_ = w.conn.Close()
}

// step moves p by meters in a random direction, keeping it on the globe.
func step(p Point, meters float64, rng *rand.Rand) Point {
	bearing := rng.Float64() * 2 * math.Pi
	dLat := meters * math.Cos(bearing) / metersPerDegree
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLng := meters * math.Sin(bearing) / (metersPerDegree * cosLat)

	next := Point{
		Lat: math.Max(-89.9, math.Min(89.9, p.Lat+dLat)),
		Lng: p.Lng + dLng,
	}
	for next.Lng > 180 {
		next.Lng -= 360
	}
	for next.Lng < -180 {
		next.Lng += 360
	}
	return next
}
