package robotsim

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/kwv/roomdash/logger"
	"github.com/kwv/roomdash/roommap"
)

// Server exposes a Robot over the robot HTTP API.
type Server struct {
	robot *Robot
	app   *fiber.App
}

// NewServer builds the fiber app for robot.
func NewServer(robot *Robot) *Server {
	s := &Server{robot: robot}

	app := fiber.New(fiber.Config{
		AppName: "roomdash robot simulator",
	})
	app.Use(recover.New())

	app.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Robot control API running"})
	})
	app.Get("/move/:direction", s.handleMove)
	app.Get("/toggle/:function", s.handleToggle)
	app.Get("/state", s.handleState)
	app.Get("/status/:status", s.handleStatus)

	s.app = app
	return s
}

// App returns the underlying fiber app (tests use App().Test).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleMove(c fiber.Ctx) error {
	d, err := roommap.ParseDirection(c.Params("direction"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid direction"})
	}
	s.robot.Move(d)
	if d == roommap.MoveStop {
		return c.JSON(fiber.Map{"status": "Stopped"})
	}
	return c.JSON(fiber.Map{"status": "Moving " + string(d)})
}

func (s *Server) handleToggle(c fiber.Ctx) error {
	f, err := roommap.ParseFunction(c.Params("function"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown function"})
	}
	s.robot.Toggle(f)
	return c.JSON(fiber.Map{string(f): "toggled"})
}

func (s *Server) handleState(c fiber.Ctx) error {
	return c.JSON(s.robot.Telemetry())
}

var settableStatuses = []roommap.RobotStatus{
	roommap.StatusIdle,
	roommap.StatusCleaning,
	roommap.StatusDocked,
	roommap.StatusPaused,
	roommap.StatusError,
	roommap.StatusReturning,
}

func (s *Server) handleStatus(c fiber.Ctx) error {
	want := roommap.RobotStatus(strings.ToLower(c.Params("status")))
	for _, st := range settableStatuses {
		if st == want {
			s.robot.SetStatus(st)
			logger.Log.WithField("status", st).Info("simulated robot status changed")
			return c.JSON(fiber.Map{"status": string(st)})
		}
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status"})
}

// Listen serves on addr until ctx is done.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	logger.Log.WithField("addr", addr).Info("robot simulator listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithContext(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
