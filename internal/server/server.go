// Package server exposes the live device registry over HTTP: JSON
// endpoints for one-shot reads, a CSV export, and a WebSocket feed that
// pushes registry snapshots to connected clients on a fixed cadence.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashplane/asicscan/internal/logging"
	"github.com/hashplane/asicscan/internal/recording"
	"github.com/hashplane/asicscan/internal/registry"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// DefaultSnapshotInterval is how often the feed pushes registry state
	DefaultSnapshotInterval = 2 * time.Second
)

// Config holds the telemetry server configuration
type Config struct {
	Host string
	Port int

	// SnapshotInterval is the WebSocket push cadence. Zero selects the
	// default.
	SnapshotInterval time.Duration
}

// Server serves registry state over HTTP and WebSocket
type Server struct {
	config   *Config
	registry *registry.Registry
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	wg      sync.WaitGroup
}

// New creates a telemetry server over reg
func New(config *Config, reg *registry.Registry) *Server {
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = DefaultSnapshotInterval
	}
	return &Server{
		config:   config,
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is read-only telemetry on a trusted LAN
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes, exposed for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/{key}", s.handleDevice)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /ws", s.handleFeed)
	return mux
}

// Start listens and serves until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the feed holds its connection open
	}

	logging.Info("Telemetry server listening",
		zap.String("addr", addr),
		zap.Duration("snapshot_interval", s.config.SnapshotInterval),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown closes the feed connections and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down telemetry server")

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.mu.Unlock()

	var err error
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logging.Warn("Feed connections did not drain in time")
	}

	return err
}

// ActiveFeeds returns the number of connected WebSocket clients
func (s *Server) ActiveFeeds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// devicesPayload is the body pushed to feed clients and returned by the
// devices endpoint.
type devicesPayload struct {
	Taken   time.Time          `json:"taken"`
	Count   int                `json:"count"`
	Devices []*registry.Record `json:"devices"`
}

func (s *Server) snapshot() devicesPayload {
	devices := s.registry.List()
	return devicesPayload{
		Taken:   time.Now().UTC(),
		Count:   len(devices),
		Devices: devices,
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// devicePayload pairs a record with its metric history
type devicePayload struct {
	Device  *registry.Record  `json:"device"`
	History []registry.Sample `json:"history,omitempty"`
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, ok := s.registry.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no device with identity %q", key),
		})
		return
	}
	writeJSON(w, http.StatusOK, devicePayload{
		Device:  rec,
		History: s.registry.History(key),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="miners.csv"`)
	if err := recording.ExportFleet(w, s.registry.List()); err != nil {
		logging.Error("Fleet export failed", zap.Error(err))
	}
}

// handleFeed upgrades to WebSocket and pushes registry snapshots until the
// client disconnects.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	remoteAddr := conn.RemoteAddr().String()
	logging.Info("Feed client connected", zap.String("remote_addr", remoteAddr))

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			_ = conn.Close()
			logging.Info("Feed client disconnected", zap.String("remote_addr", remoteAddr))
		}()
		s.serveFeed(conn)
	}()
}

func (s *Server) serveFeed(conn *websocket.Conn) {
	// Reader goroutine: drains control frames and detects disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(s.config.SnapshotInterval)
	defer push.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// First snapshot goes out immediately
	if err := s.writeSnapshot(conn); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-push.C:
			if err := s.writeSnapshot(conn); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(s.snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}
