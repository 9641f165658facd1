package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kwv/roomdash/history"
	"github.com/kwv/roomdash/logger"
	"github.com/kwv/roomdash/roommap"
)

// HistoryStore persists finished cleaning runs.
type HistoryStore interface {
	Save(ctx context.Context, s roommap.SessionSummary) error
	GetAll(ctx context.Context) ([]roommap.SessionSummary, error)
	Clear(ctx context.Context) (int64, error)
}

// CommandSender forwards manual commands to the robot.
type CommandSender interface {
	Move(ctx context.Context, direction string) roommap.Ack
	Toggle(ctx context.Context, function string) roommap.Ack
}

// App encapsulates the application state and dependencies
type App struct {
	Config     *roommap.Config
	Engine     *roommap.LiveEngine
	Viewport   *roommap.Viewport
	Remap      *roommap.RemapController
	Renderer   *roommap.MapRenderer
	Telemetry  *roommap.TelemetryClient
	Commands   CommandSender
	History    HistoryStore
	MQTTClient *roommap.MQTTClient
	Publisher  *roommap.Publisher
	Hub        *Hub

	closeHistory func() error
}

// loadMap returns the configured map file, or the demo apartment.
func loadMap(cfg *roommap.Config) (roommap.EnhancedRoomMap, error) {
	if cfg.Map.File == "" {
		return roommap.NewRoomMap(roommap.DemoMap())
	}
	m, err := roommap.LoadRoomMap(cfg.Map.File)
	if err != nil {
		return roommap.EnhancedRoomMap{}, fmt.Errorf("load map %s: %w", cfg.Map.File, err)
	}
	return m, nil
}

// NewApp builds every component from cfg. History is opened only when
// store is nil; tests pass their own.
func NewApp(ctx context.Context, cfg *roommap.Config, store HistoryStore) (*App, error) {
	m, err := loadMap(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Viewport: roommap.NewViewportFrom(m.Viewport),
		Renderer: roommap.NewMapRenderer(cfg.Map.ViewportWidth, cfg.Map.ViewportHeight),
		Hub:      NewHub(),
		History:  store,
	}

	if a.History == nil {
		s, err := history.Open(ctx, cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.History = s
		a.closeHistory = s.Close
	}

	a.Telemetry = roommap.NewTelemetryClient(cfg.Robot.BaseURL, roommap.WithTimeout(cfg.Robot.Timeout))
	a.Commands = roommap.NewCommandClient(cfg.Robot.BaseURL, roommap.WithTimeout(cfg.Robot.Timeout))

	a.Engine = roommap.NewLiveEngine(m, a.Telemetry,
		roommap.WithPollInterval(cfg.Robot.PollInterval),
		roommap.WithStaleThreshold(cfg.StaleThreshold),
		roommap.WithStaleHandler(a.onStale),
		roommap.WithSessionHandler(a.onSessionEnd),
	)

	a.Remap = roommap.NewRemapController(
		func() { a.Engine.ResetForRemap() },
		roommap.WithRemapListener(a.onRemapChange),
	)

	mqttClient, err := roommap.NewMQTTClient(cfg.MQTT, a.Engine.ObserveStatus)
	if err != nil {
		return nil, fmt.Errorf("init MQTT: %w", err)
	}
	if mqttClient != nil {
		a.MQTTClient = mqttClient
		a.Publisher = roommap.NewPublisher(mqttClient.Client(), cfg.MQTT.PublishPrefix)
	}
	return a, nil
}

func (a *App) onStale(err error, consecutive int) {
	logger.Log.WithError(err).WithField("consecutive", consecutive).Error("robot telemetry is stale")
	a.Hub.Broadcast("stale", map[string]any{"consecutive": consecutive, "error": err.Error()})
}

func (a *App) onSessionEnd(s roommap.SessionSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.History.Save(ctx, s); err != nil {
		logger.Log.WithError(err).WithField("session", s.ID).Error("failed to save cleaning run")
	}
	a.Hub.Broadcast("session", s)
}

func (a *App) onRemapChange(s roommap.RemapSession) {
	a.Hub.Broadcast("remap", s)
	if a.Publisher != nil {
		if err := a.Publisher.PublishRemap(s); err != nil {
			logger.Log.WithError(err).Debug("remap state not published")
		}
	}
}

// forwardSnapshots relays engine snapshots to websocket clients.
func (a *App) forwardSnapshots(ctx context.Context) {
	snaps, unsubscribe := a.Engine.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			a.Hub.Broadcast("snapshot", s)
		}
	}
}

// Run serves HTTP and drives every background component until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.forwardSnapshots(ctx)
		return nil
	})

	if a.MQTTClient != nil {
		a.MQTTClient.Start(ctx.Done())
		snaps, unsubscribe := a.Engine.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			a.Publisher.Run(ctx, snaps)
			return nil
		})
	} else {
		g.Go(func() error {
			roommap.WatchStatus(ctx, a.Telemetry, a.Engine, a.Config.Robot.StatusInterval)
			return nil
		})
	}

	err := g.Wait()
	a.Close()
	return err
}

// Close stops timers and releases the broker and database.
func (a *App) Close() {
	a.Remap.Close()
	a.Engine.Close()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.closeHistory != nil {
		if err := a.closeHistory(); err != nil {
			logger.Log.WithError(err).Warn("failed to close history database")
		}
		a.closeHistory = nil
	}
}
