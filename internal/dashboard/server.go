package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meshmon/internal/model"
)

const (
	writeTimeout      = 5 * time.Second
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// AlertSource lists stored alerts, newest first.
type AlertSource interface {
	Recent(ctx context.Context, limit int) ([]model.AlertEvent, error)
}

// Server exposes the hub and alert history over HTTP.
type Server struct {
	log    *zap.Logger
	addr   string
	hub    *Hub
	alerts AlertSource

	mu       sync.RWMutex
	checkers []Checker
	server   *http.Server
	listener net.Listener
}

// NewServer builds a server. alerts may be nil when no history is kept.
func NewServer(log *zap.Logger, addr string, hub *Hub, alerts AlertSource) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, addr: addr, hub: hub, alerts: alerts}
}

func (s *Server) AddChecker(c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, c)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/nodes", s.handleNodes)
	r.Get("/api/alerts", s.handleAlerts)
	r.Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	r.Get("/live", s.handleLive)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("dashboard listening", zap.String("address", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	views := s.hub.Snapshot()
	if mesh := r.URL.Query().Get("mesh"); mesh != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.Mesh == mesh {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, []EventView{})
		return
	}
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}
	events, err := s.alerts.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("list alerts failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	views := EventViews(events)
	if views == nil {
		views = []EventView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	for _, v := range s.hub.Snapshot() {
		if err := writePayload(conn, v); err != nil {
			return
		}
	}

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
		case v := <-updates:
			if err := writePayload(conn, v); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writePayload(conn *websocket.Conn, v MeshView) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make([]Checker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     StatusHealthy,
		Components: make([]ComponentHealth, 0, len(checkers)),
		Timestamp:  time.Now().UTC(),
	}
	for _, c := range checkers {
		status, msg := c.Check(ctx)
		resp.Components = append(resp.Components, ComponentHealth{Name: c.Name(), Status: status, Message: msg})
		switch {
		case status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
