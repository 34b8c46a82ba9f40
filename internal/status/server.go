// Package status exposes the running engine over a local HTTP surface: a
// unix socket with JSON state, an SSE stream, and a websocket feed. Local
// tooling (the status command, editor statuslines) reads this instead of
// poking the engine directly.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grovetools/cosync/internal/discovery"
	"github.com/grovetools/cosync/internal/engine"
	"github.com/grovetools/cosync/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SnapshotFunc returns the current engine state.
type SnapshotFunc func() engine.Snapshot

// pollInterval is how often the server re-reads the engine snapshot to feed
// its subscribers.
const pollInterval = 500 * time.Millisecond

type subscriber struct {
	id string
	ch chan engine.Snapshot
}

// Server serves engine state over a unix socket.
type Server struct {
	logger   *logrus.Entry
	server   *http.Server
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*subscriber

	stopPoll chan struct{}
}

// New creates a status server reading state through snapshot.
func New(snapshot SnapshotFunc) *Server {
	return &Server{
		logger:   logging.NewLogger("status"),
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			// The socket is 0600 on a local unix path; origin checks do
			// not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs:     make(map[string]*subscriber),
		stopPoll: make(chan struct{}),
	}
}

// ListenAndServe starts the server on the given unix socket path. It blocks
// until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/peers", s.handleGetPeers)
	mux.HandleFunc("/api/stream", s.handleStreamState)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	go s.pollLoop()

	s.logger.WithField("socket", socketPath).Info("Status server listening")
	return s.server.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server...")
	close(s.stopPoll)
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// pollLoop feeds subscribers whenever the engine snapshot changes.
func (s *Server) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last engine.Snapshot
	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			snap := s.snapshot()
			if snap == last {
				continue
			}
			last = snap
			s.broadcast(snap)
		}
	}
}

func (s *Server) broadcast(snap engine.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- snap:
		default:
			// A slow subscriber misses an update; the next one replaces it.
		}
	}
}

func (s *Server) subscribe() *subscriber {
	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan engine.Snapshot, 8),
	}
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
}

// handleGetState returns the current snapshot as JSON.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

// handleGetPeers browses mDNS for other running instances.
func (s *Server) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := discovery.Browse(r.Context(), 2*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if peers == nil {
		peers = []discovery.Peer{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(peers)
}

// handleStreamState provides Server-Sent Events for state updates.
func (s *Server) handleStreamState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	s.logger.WithField("client", sub.id).Debug("SSE client connected")

	// Current state immediately so the client has data right away.
	if data, err := json.Marshal(s.snapshot()); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.WithField("client", sub.id).Debug("SSE client disconnected")
			return
		case snap := <-sub.ch:
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal snapshot")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleWebSocket pushes snapshots over a websocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.subscribe()
	defer s.unsubscribe(sub)
	s.logger.WithField("client", sub.id).Debug("WebSocket client connected")

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}

	// Drain inbound frames so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			s.logger.WithField("client", sub.id).Debug("WebSocket client disconnected")
			return
		case snap := <-sub.ch:
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
