// Package export serves snapshots over HTTP for headless use: a JSON
// endpoint, a websocket stream and Prometheus metrics.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/srodi/proctop-bpf/pkg/loop"
	"github.com/srodi/proctop-bpf/pkg/types"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// Config wires a Server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Logger   logrus.FieldLogger
}

// Server publishes the latest snapshot to HTTP and websocket clients.
type Server struct {
	log        logrus.FieldLogger
	httpServer *http.Server
	origins    []string

	mu     sync.RWMutex
	latest *types.Snapshot
	// one single-slot queue per websocket client
	subs map[*loop.Queue]struct{}

	wsActive   atomic.Int64
	requestIDs atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		log:     log.WithField("component", "export"),
		origins: originPatterns(cfg.AllowedOrigins),
		subs:    map[*loop.Queue]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWS)
	if cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("listening")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for sub := range s.subs {
		sub.Close()
		delete(s.subs, sub)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// Publish stores snap as the latest snapshot and forwards it to every
// websocket client. Slow clients only ever see the newest snapshot.
func (s *Server) Publish(snap types.Snapshot) {
	s.mu.Lock()
	s.latest = &snap
	targets := make([]*loop.Queue, 0, len(s.subs))
	for sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.Push(snap)
	}
}

// Clients is the number of connected websocket clients.
func (s *Server) Clients() int { return int(s.wsActive.Load()) }

func (s *Server) subscribe() *loop.Queue {
	sub := loop.NewQueue(1)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	latest := s.latest
	s.mu.Unlock()
	if latest != nil {
		sub.Push(*latest)
	}
	return sub
}

func (s *Server) unsubscribe(sub *loop.Queue) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(latest); err != nil {
		s.log.WithError(err).Warn("encoding snapshot failed")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.wsActive.Add(1)
	defer s.wsActive.Add(-1)

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	// Clients never send anything; CloseRead notices when they go away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap := <-sub.C():
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, snap)
			cancel()
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					s.log.WithError(err).Debug("websocket write failed")
				}
				return
			}
		}
	}
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"req_id":   s.requestIDs.Add(1),
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}
