package roommap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Direction is a manual motor command.
type Direction string

const (
	MoveForward  Direction = "forward"
	MoveBackward Direction = "backward"
	MoveLeft     Direction = "left"
	MoveRight    Direction = "right"
	MoveStop     Direction = "stop"
)

// Function is a toggleable robot actuator.
type Function string

const (
	FunctionPump   Function = "pump"
	FunctionVacuum Function = "vacuum"
	FunctionCentre Function = "centre"
	FunctionSide   Function = "side"
)

var (
	// Directions lists every accepted Direction.
	Directions = []Direction{MoveForward, MoveBackward, MoveLeft, MoveRight, MoveStop}
	// Functions lists every accepted Function.
	Functions = []Function{FunctionPump, FunctionVacuum, FunctionCentre, FunctionSide}

	// ErrUnknownCommand is returned for directions or functions the robot
	// does not implement.
	ErrUnknownCommand = errors.New("unknown command")
)

// ParseDirection validates s.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(s))
	if !slices.Contains(Directions, d) {
		return "", fmt.Errorf("direction %q: %w", s, ErrUnknownCommand)
	}
	return d, nil
}

// ParseFunction validates s.
func ParseFunction(s string) (Function, error) {
	f := Function(strings.ToLower(s))
	if !slices.Contains(Functions, f) {
		return "", fmt.Errorf("function %q: %w", s, ErrUnknownCommand)
	}
	return f, nil
}

// Ack is the robot's reply to a command. Failures are reported in Status
// rather than as errors so the caller can show them verbatim.
type Ack struct {
	Status string `json:"status"`
}

// OK reports whether the command was accepted.
func (a Ack) OK() bool {
	return !strings.HasPrefix(a.Status, "error")
}

func errorAck(err error) Ack {
	return Ack{Status: "error: " + err.Error()}
}

// CommandClient sends manual commands to the robot. Commands are not
// retried: a repeated move is not idempotent from the user's point of view.
type CommandClient struct {
	baseURL string
	client  *http.Client
}

// NewCommandClient returns a client for the robot at baseURL.
func NewCommandClient(baseURL string, opts ...FetchOption) *CommandClient {
	_, client := buildFetchConfig(opts)
	return &CommandClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Move issues GET /move/{direction}.
func (c *CommandClient) Move(ctx context.Context, direction string) Ack {
	d, err := ParseDirection(direction)
	if err != nil {
		return errorAck(err)
	}
	return c.send(ctx, "/move/"+string(d), "")
}

// Toggle issues GET /toggle/{function}.
func (c *CommandClient) Toggle(ctx context.Context, function string) Ack {
	f, err := ParseFunction(function)
	if err != nil {
		return errorAck(err)
	}
	return c.send(ctx, "/toggle/"+string(f), string(f))
}

// send performs the request. key names the field the robot uses for toggle
// replies ({"pump": "toggled"}), which is folded into "pump toggled".
func (c *CommandClient) send(ctx context.Context, path, key string) Ack {
	if c.baseURL == "" {
		return errorAck(fmt.Errorf("robot URL is empty"))
	}

	body, err := doGet(ctx, c.client, c.baseURL+path)

	var reply map[string]string
	if len(body) > 0 {
		_ = json.Unmarshal(body, &reply)
	}
	if msg, ok := reply["error"]; ok {
		return Ack{Status: "error: " + msg}
	}
	if err != nil {
		return errorAck(err)
	}

	if s, ok := reply["status"]; ok {
		return Ack{Status: s}
	}
	if v, ok := reply[key]; key != "" && ok {
		return Ack{Status: key + " " + v}
	}
	return Ack{Status: "ok"}
}
