package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"meshmon/internal/model"
	"meshmon/internal/monitor"
)

func intPtr(v int) *int { return &v }

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func cycle(mesh string, battery int) monitor.Cycle {
	return monitor.Cycle{
		Mesh: mesh,
		At:   at,
		Nodes: []model.NodeStatus{
			{Fact: model.HealthFact{NodeID: "!b2", Present: true, BatteryPercent: intPtr(battery)}, Tier: model.TierUnknown},
			{Fact: model.HealthFact{NodeID: "!a1", Present: true, DisplayName: "Alpha"}, Tier: model.TierUnknown},
		},
	}
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []model.AlertEvent
	err    error
	limit  int
}

func (f *fakeAlerts) Recent(_ context.Context, limit int) ([]model.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.events, f.err
}

func (f *fakeAlerts) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeAlerts) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestNodes_ReturnsLatestPerMesh(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	require.NoError(t, hub.Publish(context.Background(), cycle("home", 90)))
	require.NoError(t, hub.Publish(context.Background(), cycle("home", 50)))
	require.NoError(t, hub.Publish(context.Background(), cycle("cabin", 70)))

	ts := httptest.NewServer(NewServer(nil, "", hub, nil).Handler())
	defer ts.Close()

	var views []MeshView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/nodes", &views))
	require.Len(t, views, 2)
	require.Equal(t, "cabin", views[0].Mesh)
	require.Equal(t, "home", views[1].Mesh)
	require.Equal(t, "!a1", views[1].Nodes[0].ID)
	require.Equal(t, 50, *views[1].Nodes[1].BatteryPct)

	views = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/nodes?mesh=home", &views))
	require.Len(t, views, 1)
}

func TestAlerts(t *testing.T) {
	t.Parallel()

	src := &fakeAlerts{events: []model.AlertEvent{
		{ID: "e1", Mesh: "home", NodeID: "!a1", Category: model.CategoryOffline, Severity: model.SeverityCritical,
			Message: "Node !a1 is OFFLINE (not in node list)", Timestamp: at},
	}}
	ts := httptest.NewServer(NewServer(nil, "", NewHub(nil), src).Handler())
	defer ts.Close()

	var views []EventView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/alerts?limit=5000", &views))
	require.Equal(t, maxAlertLimit, src.lastLimit())
	require.Len(t, views, 1)
	require.Equal(t, model.CategoryOffline, views[0].Category)

	var errBody map[string]string
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/alerts?limit=abc", &errBody))

	src.fail(errors.New("db gone"))
	require.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/api/alerts", &errBody))
	require.Equal(t, defaultAlertLimit, src.lastLimit())
}

func TestAlerts_NoHistory(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(nil, "", NewHub(nil), nil).Handler())
	defer ts.Close()

	var views []EventView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/alerts", &views))
	require.Empty(t, views)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	srv := NewServer(nil, "", hub, nil)
	var failing atomic.Bool
	srv.AddChecker(NewPingChecker("history", func(context.Context) error {
		if failing.Load() {
			return errors.New("closed")
		}
		return nil
	}))
	srv.AddChecker(NewMeshChecker(hub, 0))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var resp HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &resp))
	require.Equal(t, StatusDegraded, resp.Status)

	require.NoError(t, hub.Publish(context.Background(), cycle("home", 90)))
	resp = HealthResponse{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &resp))
	require.Equal(t, StatusHealthy, resp.Status)
	require.Len(t, resp.Components, 2)

	failing.Store(true)
	resp = HealthResponse{}
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/health", &resp))
	require.Equal(t, StatusUnhealthy, resp.Status)

	live, err := http.Get(ts.URL + "/live")
	require.NoError(t, err)
	body, _ := io.ReadAll(live.Body)
	live.Body.Close()
	require.Equal(t, "OK", string(body))
}

func TestMeshChecker_StaleAndFailed(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	c := NewMeshChecker(hub, time.Minute)
	c.now = func() time.Time { return at.Add(2 * time.Minute) }

	require.NoError(t, hub.Publish(context.Background(), cycle("home", 90)))
	status, msg := c.Check(context.Background())
	require.Equal(t, StatusDegraded, status)
	require.Contains(t, msg, "last cycle at")

	require.NoError(t, hub.Publish(context.Background(), monitor.Cycle{Mesh: "home", At: at.Add(2 * time.Minute), Err: errors.New("timed out")}))
	status, msg = c.Check(context.Background())
	require.Equal(t, StatusDegraded, status)
	require.Contains(t, msg, "timed out")
}

func TestWebSocket_SnapshotThenUpdates(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	require.NoError(t, hub.Publish(context.Background(), cycle("home", 90)))
	ts := httptest.NewServer(NewServer(nil, "", hub, nil).Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first MeshView
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, 90, *first.Nodes[1].BatteryPct)

	require.NoError(t, hub.Publish(context.Background(), cycle("home", 40)))
	var next MeshView
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, 40, *next.Nodes[1].BatteryPct)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewServer(nil, "", NewHub(nil), nil).Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_StartShutdown(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "127.0.0.1:0", NewHub(nil), nil)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
