package dashboard

import (
	"context"
	"fmt"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) (Status, string)
}

// PingChecker is unhealthy when its ping func fails.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) (Status, string) {
	if err := c.ping(ctx); err != nil {
		return StatusUnhealthy, err.Error()
	}
	return StatusHealthy, ""
}

// MeshChecker is degraded when a mesh has no cycle yet, its last fetch
// failed, or its last cycle is older than maxAge.
type MeshChecker struct {
	hub    *Hub
	maxAge time.Duration
	now    func() time.Time
}

func NewMeshChecker(hub *Hub, maxAge time.Duration) *MeshChecker {
	return &MeshChecker{hub: hub, maxAge: maxAge, now: time.Now}
}

func (c *MeshChecker) Name() string {
	return "meshes"
}

func (c *MeshChecker) Check(context.Context) (Status, string) {
	views := c.hub.Snapshot()
	if len(views) == 0 {
		return StatusDegraded, "no cycle completed yet"
	}
	for _, v := range views {
		if !v.OK {
			return StatusDegraded, fmt.Sprintf("mesh %s: last fetch failed: %s", v.Mesh, v.Error)
		}
		if c.maxAge > 0 && c.now().Sub(v.At) > c.maxAge {
			return StatusDegraded, fmt.Sprintf("mesh %s: last cycle at %s", v.Mesh, v.At.Format(time.RFC3339))
		}
	}
	return StatusHealthy, ""
}
