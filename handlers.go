package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/roomdash/logger"
	"github.com/kwv/roomdash/roommap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("error encoding JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// viewportRequest is the POST /viewport body. Action selects the operation;
// the other fields are read only by the actions that need them.
type viewportRequest struct {
	Action  string  `json:"action"`
	Scale   float64 `json:"scale"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
	Degrees float64 `json:"degrees"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status        string              `json:"status"`
			Timestamp     time.Time           `json:"timestamp"`
			RobotStatus   roommap.RobotStatus `json:"robotStatus"`
			Active        bool                `json:"active"`
			MQTTConnected bool                `json:"mqttConnected"`
			WSClients     int                 `json:"wsClients"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			RobotStatus: a.Engine.Status(),
			Active:      a.Engine.Active(),
			WSClients:   a.Hub.ClientCount(),
		}
		if a.MQTTClient != nil {
			status.MQTTConnected = a.MQTTClient.IsConnected()
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /map.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Engine.Snapshot().Map)
	})

	mux.HandleFunc("PUT /map.json", func(w http.ResponseWriter, r *http.Request) {
		var m roommap.EnhancedRoomMap
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMapBytes)).Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid map JSON: "+err.Error())
			return
		}
		replaceMap(a, w, m)
	})

	mux.HandleFunc("POST /map/reload", func(w http.ResponseWriter, r *http.Request) {
		m, err := loadMap(a.Config)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		replaceMap(a, w, m)
	})

	mux.HandleFunc("GET /path.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Engine.Snapshot().Path)
	})

	mux.HandleFunc("GET /snapshot.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Engine.Snapshot())
	})

	mux.HandleFunc("GET /map.geojson", func(w http.ResponseWriter, r *http.Request) {
		snap := a.Engine.Snapshot()
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(roommap.ToGeoJSON(snap.Map, robotPosition(snap))); err != nil {
			logger.Log.WithError(err).Warn("error encoding GeoJSON")
		}
	})

	mux.HandleFunc("GET /map.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer, err := rendererFor(a, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderSVG(w, sceneFor(a)); err != nil {
			logger.Log.WithError(err).Warn("error encoding map SVG")
		}
	})

	mux.HandleFunc("GET /map.png", func(w http.ResponseWriter, r *http.Request) {
		renderer, err := rendererFor(a, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderPNG(w, sceneFor(a)); err != nil {
			logger.Log.WithError(err).Warn("error encoding map PNG")
		}
	})

	mux.HandleFunc("GET /viewport", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Viewport.Transform())
	})

	mux.HandleFunc("POST /viewport", func(w http.ResponseWriter, r *http.Request) {
		var req viewportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid viewport request")
			return
		}
		var t roommap.ViewportTransform
		switch req.Action {
		case "pinch":
			t = a.Viewport.ApplyPinch(req.Scale)
		case "pan":
			t = a.Viewport.ApplyPan(req.DX, req.DY)
		case "zoomIn":
			t = a.Viewport.ZoomIn()
		case "zoomOut":
			t = a.Viewport.ZoomOut()
		case "rotate":
			t = a.Viewport.Rotate(req.Degrees)
		case "reset":
			t = a.Viewport.Reset()
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown viewport action %q", req.Action))
			return
		}
		a.Hub.Broadcast("viewport", t)
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("GET /remap", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Remap.Session())
	})

	mux.HandleFunc("POST /remap", func(w http.ResponseWriter, r *http.Request) {
		started := a.Remap.Start()
		writeJSON(w, http.StatusAccepted, struct {
			Started bool `json:"started"`
			roommap.RemapSession
		}{started, a.Remap.Session()})
	})

	mux.HandleFunc("DELETE /remap", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Remap.Cancel(); err != nil {
			if errors.Is(err, roommap.ErrRemapInProgress) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a.Remap.Session())
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := a.History.GetAll(r.Context())
		if err != nil {
			logger.Log.WithError(err).Error("failed to read history")
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("DELETE /history", func(w http.ResponseWriter, r *http.Request) {
		n, err := a.History.Clear(r.Context())
		if err != nil {
			logger.Log.WithError(err).Error("failed to clear history")
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	})

	mux.HandleFunc("POST /command/move/{direction}", func(w http.ResponseWriter, r *http.Request) {
		if _, err := roommap.ParseDirection(r.PathValue("direction")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeAck(w, a.Commands.Move(r.Context(), r.PathValue("direction")))
	})

	mux.HandleFunc("POST /command/toggle/{function}", func(w http.ResponseWriter, r *http.Request) {
		if _, err := roommap.ParseFunction(r.PathValue("function")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeAck(w, a.Commands.Toggle(r.Context(), r.PathValue("function")))
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		a.Hub.ServeWS(w, r, &Envelope{Type: "snapshot", Data: a.Engine.Snapshot()})
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, indexHTML)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Log.WithField("remote", r.RemoteAddr).Debugf("[HTTP] %s %s", r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	})
}

// maxMapBytes caps an uploaded map document.
const maxMapBytes = 4 << 20

func replaceMap(a *App, w http.ResponseWriter, m roommap.EnhancedRoomMap) {
	installed, err := a.Engine.ReplaceMap(m)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	logger.Log.WithField("map", installed.ID).Infof("map replaced (%d rooms)", len(installed.Rooms))
	writeJSON(w, http.StatusOK, installed)
}

// writeAck relays a robot acknowledgement. A failed command is reported as
// 502 with the ack body so the client still sees the robot's message.
func writeAck(w http.ResponseWriter, ack roommap.Ack) {
	status := http.StatusOK
	if !ack.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ack)
}

func robotPosition(s roommap.Snapshot) *roommap.RobotPosition {
	if s.Robot.Status == "" {
		return nil
	}
	p := s.Robot.Position
	return &p
}

func sceneFor(a *App) roommap.Scene {
	snap := a.Engine.Snapshot()
	return roommap.Scene{
		Map:      snap.Map,
		Robot:    robotPosition(snap),
		Viewport: a.Viewport.Transform(),
	}
}

// rendererFor honours optional ?width=&height= overrides.
func rendererFor(a *App, r *http.Request) (*roommap.MapRenderer, error) {
	width, height := a.Renderer.Width, a.Renderer.Height
	for name, dst := range map[string]*float64{"width": &width, "height": &height} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 8192 {
			return nil, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = f
	}
	out := roommap.NewMapRenderer(width, height)
	out.ShowLabels = a.Renderer.ShowLabels
	return out, nil
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>roomdash</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#f8fafc}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img id="map" src="/map.svg" alt="Room map">
<script>
const img = document.getElementById("map");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = () => { img.src = "/map.svg?t=" + Date.now(); };
</script>
</body>
</html>`
