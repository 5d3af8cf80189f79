package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshmon/internal/model"
	"meshmon/internal/monitor"
)

const clientBuffer = 8

// NodeView is the JSON form of one node row.
type NodeView struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	Present    bool             `json:"present"`
	BatteryPct *int             `json:"battery_pct,omitempty"`
	SNRDb      *float64         `json:"snr_db,omitempty"`
	Tier       model.SignalTier `json:"tier"`
	HopsAway   string           `json:"hops_away,omitempty"`
	LastHeard  string           `json:"last_heard,omitempty"`
}

// EventView is the JSON form of an alert event.
type EventView struct {
	ID        string            `json:"id"`
	Mesh      string            `json:"mesh"`
	NodeID    string            `json:"node_id"`
	Category  model.Category    `json:"category"`
	Severity  model.Severity    `json:"severity"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MeshView is the latest cycle of one mesh.
type MeshView struct {
	Mesh   string      `json:"mesh"`
	At     time.Time   `json:"at"`
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Nodes  []NodeView  `json:"nodes"`
	Events []EventView `json:"events,omitempty"`
}

func toMeshView(c monitor.Cycle) MeshView {
	v := MeshView{Mesh: c.Mesh, At: c.At.UTC(), OK: c.OK(), Nodes: []NodeView{}}
	if c.Err != nil {
		v.Error = c.Err.Error()
	}
	for _, st := range c.Nodes {
		f := st.Fact
		v.Nodes = append(v.Nodes, NodeView{
			ID:         f.NodeID,
			Name:       f.DisplayName,
			Present:    f.Present,
			BatteryPct: f.BatteryPercent,
			SNRDb:      f.SNRDb,
			Tier:       st.Tier,
			HopsAway:   f.HopsAway,
			LastHeard:  f.LastHeard,
		})
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].ID < v.Nodes[j].ID })
	v.Events = EventViews(c.Events)
	return v
}

// EventViews converts events for JSON output.
func EventViews(events []model.AlertEvent) []EventView {
	if len(events) == 0 {
		return nil
	}
	out := make([]EventView, 0, len(events))
	for _, e := range events {
		out = append(out, EventView{
			ID:        e.ID,
			Mesh:      e.Mesh,
			NodeID:    e.NodeID,
			Category:  e.Category,
			Severity:  e.Severity,
			Message:   e.Message,
			Timestamp: e.Timestamp.UTC(),
			Metadata:  e.Metadata,
		})
	}
	return out
}

// Hub keeps the latest cycle per mesh and pushes every new one to
// connected websocket clients. It is a monitor.Sink.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	latest  map[string]MeshView
	clients map[chan MeshView]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		latest:  map[string]MeshView{},
		clients: map[chan MeshView]struct{}{},
	}
}

func (h *Hub) Publish(_ context.Context, c monitor.Cycle) error {
	v := toMeshView(c)

	h.mu.Lock()
	h.latest[v.Mesh] = v
	for ch := range h.clients {
		select {
		case ch <- v:
		default:
			h.log.Warn("dashboard client too slow, dropping update", zap.String("mesh", v.Mesh))
		}
	}
	h.mu.Unlock()
	return nil
}

// Snapshot returns the latest view of every mesh, sorted by mesh name.
func (h *Hub) Snapshot() []MeshView {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]MeshView, 0, len(h.latest))
	for _, v := range h.latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mesh < out[j].Mesh })
	return out
}

// subscribe registers a client channel. The returned func unregisters it.
func (h *Hub) subscribe() (<-chan MeshView, func()) {
	ch := make(chan MeshView, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}
