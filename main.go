package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/roomdash/logger"
	"github.com/kwv/roomdash/robotsim"
	"github.com/kwv/roomdash/roommap"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "roomdash",
		Short:        "Live room map dashboard for a robot vacuum",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.Init()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolveConfig reads path when it exists; the caller validates. A missing
// file is only an error when the user named it explicitly. Otherwise
// defaults and environment variables are used.
func resolveConfig(path string, explicit bool) (*roommap.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return roommap.ReadConfig(path)
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg := roommap.DefaultConfig()
	cfg.ApplyEnv()
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		configFile string
		simulate   bool
		simAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live map service (HTTP, WebSocket, MQTT)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if simulate && cfg.Robot.BaseURL == "" {
				cfg.Robot.BaseURL = "http://" + localAddr(simAddr)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			app, err := NewApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			printServiceInfo(cfg, app)

			g, ctx := errgroup.WithContext(ctx)
			if simulate {
				g.Go(func() error { return runSimulator(ctx, simAddr, 500*time.Millisecond, robotsim.DefaultStep) })
			}
			g.Go(func() error { return app.Run(ctx) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Also run the robot simulator and point the service at it")
	cmd.Flags().StringVar(&simAddr, "sim-addr", ":5000", "Simulator listen address (with --simulate)")
	return cmd
}

func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func printServiceInfo(cfg *roommap.Config, app *App) {
	fmt.Printf("roomdash %s\n", Version)
	fmt.Printf("  Robot:   %s\n", cfg.Robot.BaseURL)
	fmt.Printf("  HTTP:    http://localhost:%d/\n", cfg.HTTP.Port)
	fmt.Printf("  History: %s\n", cfg.History.DBPath)
	if app.MQTTClient != nil {
		fmt.Printf("  MQTT:    %s (status %s, publishing %s)\n",
			cfg.MQTT.Broker, cfg.MQTT.StatusTopic, app.Publisher.SnapshotTopic())
	} else {
		fmt.Printf("  MQTT:    disabled, polling robot status every %s\n", cfg.Robot.StatusInterval)
	}
}

func renderCmd() *cobra.Command {
	var (
		mapFile  string
		output   string
		format   string
		width    float64
		height   float64
		zoom     float64
		rotation float64
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a room map to SVG or PNG",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRender(mapFile, output, format, width, height, zoom, rotation)
		},
	}

	cmd.Flags().StringVarP(&mapFile, "map", "m", "", "Map JSON file (default: built-in demo map)")
	cmd.Flags().StringVarP(&output, "output", "o", "map.svg", "Output file")
	cmd.Flags().StringVarP(&format, "format", "f", "", "svg or png (default: from output extension)")
	cmd.Flags().Float64Var(&width, "width", roommap.DefaultViewportWidth, "Viewport width")
	cmd.Flags().Float64Var(&height, "height", roommap.DefaultViewportHeight, "Viewport height")
	cmd.Flags().Float64Var(&zoom, "zoom", 1, "Zoom factor (clamped to 0.5..4)")
	cmd.Flags().Float64Var(&rotation, "rotate", 0, "View rotation in degrees")
	return cmd
}

func runRender(mapFile, output, format string, width, height, zoom, rotation float64) error {
	var (
		m   roommap.EnhancedRoomMap
		err error
	)
	if mapFile == "" {
		m, err = roommap.NewRoomMap(roommap.DemoMap())
	} else {
		m, err = roommap.LoadRoomMap(mapFile)
	}
	if err != nil {
		return err
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	}

	vp := roommap.NewViewport()
	vp.ApplyPinch(zoom)
	vp.Rotate(rotation)
	scene := roommap.Scene{Map: m, Viewport: vp.Transform()}
	renderer := roommap.NewMapRenderer(width, height)

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch format {
	case "svg":
		err = renderer.RenderSVG(f, scene)
	case "png":
		err = renderer.RenderPNG(f, scene)
	default:
		return fmt.Errorf("unknown format %q (want svg or png)", format)
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	fmt.Printf("Rendered %s (%d rooms) to %s\n", m.Name, len(m.Rooms), output)
	return nil
}

func simulateCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		step     float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the robot simulator HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runSimulator(ctx, addr, interval, step)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":5000", "Listen address")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Autopilot step interval")
	cmd.Flags().Float64Var(&step, "step", robotsim.DefaultStep, "Distance covered per move or autopilot step")
	return cmd
}

func runSimulator(ctx context.Context, addr string, interval time.Duration, step float64) error {
	robot := robotsim.NewRobot(robotsim.WithStep(step))
	srv := robotsim.NewServer(robot)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		robot.Run(ctx, interval)
		return nil
	})
	g.Go(func() error { return srv.Listen(ctx, addr) })
	return g.Wait()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("roomdash version: %s\n", Version)
		},
	}
}
