package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/roomdash/roommap"
)

// memHistory is an in-memory HistoryStore.
type memHistory struct {
	mu       sync.Mutex
	sessions []roommap.SessionSummary
	err      error
}

func (m *memHistory) Save(_ context.Context, s roommap.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions = append([]roommap.SessionSummary{s}, m.sessions...)
	return nil
}

func (m *memHistory) GetAll(context.Context) ([]roommap.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]roommap.SessionSummary{}, m.sessions...), nil
}

func (m *memHistory) Clear(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := int64(len(m.sessions))
	m.sessions = nil
	return n, nil
}

// fakeCommands records commands and replies with a fixed ack.
type fakeCommands struct {
	mu   sync.Mutex
	sent []string
	ack  roommap.Ack
}

func (f *fakeCommands) Move(_ context.Context, d string) roommap.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "move/"+d)
	return f.ack
}

func (f *fakeCommands) Toggle(_ context.Context, fn string) roommap.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "toggle/"+fn)
	return f.ack
}

func newTestApp(t *testing.T) (*App, *memHistory) {
	t.Helper()
	cfg := roommap.DefaultConfig()
	cfg.Robot.BaseURL = "http://127.0.0.1:1"
	store := &memHistory{}

	a, err := NewApp(context.Background(), cfg, store)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, store
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealthHandler(t *testing.T) {
	a, _ := newTestApp(t)
	rec := do(t, newHTTPServer(a), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["robotStatus"])
	assert.Equal(t, false, body["active"])
	assert.Equal(t, false, body["mqttConnected"])
}

func TestMapHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/map.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[roommap.EnhancedRoomMap](t, rec)
	assert.Equal(t, "demo-map", m.ID)
	assert.Len(t, m.Rooms, 5)

	rec = do(t, h, http.MethodGet, "/path.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]roommap.PathPoint](t, rec))

	rec = do(t, h, http.MethodGet, "/snapshot.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[roommap.Snapshot](t, rec)
	assert.Equal(t, m.ID, snap.Map.ID)

	rec = do(t, h, http.MethodGet, "/map.geojson", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)
}

func TestReplaceMapHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	h := newHTTPServer(a)

	upload := roommap.DemoMap()
	upload.ID = "uploaded"
	body, err := json.Marshal(upload)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPut, "/map.json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "uploaded", decode[roommap.EnhancedRoomMap](t, rec).ID)
	assert.Equal(t, "uploaded", a.Engine.Snapshot().Map.ID)

	upload.Dimensions.Width = 0
	body, err = json.Marshal(upload)
	require.NoError(t, err)
	rec = do(t, h, http.MethodPut, "/map.json", bytes.NewReader(body))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "uploaded", a.Engine.Snapshot().Map.ID)

	rec = do(t, h, http.MethodPut, "/map.json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	onDisk, err := roommap.NewRoomMap(roommap.DemoMap())
	require.NoError(t, err)
	onDisk.ID = "from-disk"
	a.Config.Map.File = filepath.Join(t.TempDir(), "flat.json")
	require.NoError(t, roommap.SaveRoomMap(onDisk, a.Config.Map.File))

	rec = do(t, h, http.MethodPost, "/map/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "from-disk", a.Engine.Snapshot().Map.ID)

	a.Config.Map.File = filepath.Join(t.TempDir(), "missing.json")
	rec = do(t, h, http.MethodPost, "/map/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "from-disk", a.Engine.Snapshot().Map.ID)
}

func TestRenderHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/map.svg", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = do(t, h, http.MethodGet, "/map.png?width=200&height=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	for _, q := range []string{"width=0", "height=abc", "width=10000"} {
		rec = do(t, h, http.MethodGet, "/map.png?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestViewportHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	h := newHTTPServer(a)

	tests := []struct {
		body string
		want roommap.ViewportTransform
	}{
		{`{"action":"pinch","scale":2}`, roommap.ViewportTransform{Zoom: 2}},
		{`{"action":"pan","dx":10,"dy":-4}`, roommap.ViewportTransform{Zoom: 2, PanX: 10, PanY: -4}},
		{`{"action":"rotate","degrees":-90}`, roommap.ViewportTransform{Zoom: 2, PanX: 10, PanY: -4, Rotation: 270}},
		{`{"action":"pinch","scale":99}`, roommap.ViewportTransform{Zoom: 4, PanX: 10, PanY: -4, Rotation: 270}},
		{`{"action":"reset"}`, roommap.IdentityTransform()},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, "/viewport", strings.NewReader(tt.body))
		require.Equal(t, http.StatusOK, rec.Code, tt.body)
		assert.Equal(t, tt.want, decode[roommap.ViewportTransform](t, rec), tt.body)
	}

	rec := do(t, h, http.MethodPost, "/viewport", strings.NewReader(`{"action":"zoomIn"}`))
	assert.InDelta(t, 1.3, decode[roommap.ViewportTransform](t, rec).Zoom, 1e-9)

	rec = do(t, h, http.MethodGet, "/viewport", nil)
	assert.InDelta(t, 1.3, decode[roommap.ViewportTransform](t, rec).Zoom, 1e-9)

	rec = do(t, h, http.MethodPost, "/viewport", strings.NewReader(`{"action":"spin"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/viewport", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemapHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	a.Remap = roommap.NewRemapController(func() { a.Engine.ResetForRemap() },
		roommap.WithRemapTiming(time.Hour, time.Hour, time.Hour))
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/remap", nil)
	assert.Equal(t, roommap.RemapSession{Phase: roommap.RemapIdle}, decode[roommap.RemapSession](t, rec))

	rec = do(t, h, http.MethodPost, "/remap", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "mapping", body["phase"])

	rec = do(t, h, http.MethodPost, "/remap", nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["started"])

	rec = do(t, h, http.MethodDelete, "/remap", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	a.Remap.Close()
	rec = do(t, h, http.MethodDelete, "/remap", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryHandlers(t *testing.T) {
	a, store := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	a.onSessionEnd(roommap.SessionSummary{ID: "run-1", EndStatus: "docked", RoomsVisited: []string{"kitchen"}})

	rec = do(t, h, http.MethodGet, "/history", nil)
	sessions := decode[[]roommap.SessionSummary](t, rec)
	require.Len(t, sessions, 1)
	assert.Equal(t, "run-1", sessions[0].ID)

	rec = do(t, h, http.MethodDelete, "/history", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"deleted": 1}, decode[map[string]int64](t, rec))

	store.err = errors.New("disk full")
	rec = do(t, h, http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCommandHandlers(t *testing.T) {
	a, _ := newTestApp(t)
	cmds := &fakeCommands{ack: roommap.Ack{Status: "Moving forward"}}
	a.Commands = cmds
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/command/move/forward", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, roommap.Ack{Status: "Moving forward"}, decode[roommap.Ack](t, rec))

	rec = do(t, h, http.MethodPost, "/command/move/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/command/toggle/turbo", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cmds.ack = roommap.Ack{Status: "error: robot offline"}
	rec = do(t, h, http.MethodPost, "/command/toggle/pump", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodGet, "/command/move/forward", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, []string{"move/forward", "toggle/pump"}, cmds.sent)
}

func TestIndexHandler(t *testing.T) {
	a, _ := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/map.svg")

	rec = do(t, h, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotsReachWebsocketClients(t *testing.T) {
	a, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.forwardSnapshots(ctx)

	send := a.Hub.Register("test")
	defer a.Hub.Unregister("test")

	a.Engine.ResetForRemap()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-send:
			var env struct {
				Type string           `json:"type"`
				Data roommap.Snapshot `json:"data"`
			}
			require.NoError(t, json.Unmarshal(msg, &env))
			if env.Type == "snapshot" && env.Data.Seq == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot broadcast after reset")
		}
	}
}

func TestRobotPosition(t *testing.T) {
	assert.Nil(t, robotPosition(roommap.Snapshot{}))

	p := robotPosition(roommap.Snapshot{Robot: roommap.Telemetry{
		Status:   roommap.StatusCleaning,
		Position: roommap.RobotPosition{X: 1, Y: 2},
	}})
	require.NotNil(t, p)
	assert.Equal(t, roommap.RobotPosition{X: 1, Y: 2}, *p)
}

func TestWriteAck(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAck(rec, roommap.Ack{Status: "ok"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`"status":"ok"`)))
}
