package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/scenario"
	"conclave/pkg/step"
	"conclave/pkg/world"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// diagnostics writes envelopes to the worker's stderr. It is the Notifier
// of the worker's scenario engine.
type diagnostics struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newDiagnostics(w io.Writer) *diagnostics {
	return &diagnostics{enc: json.NewEncoder(w)}
}

func (d *diagnostics) write(env envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Feedback is best effort.
	_ = d.enc.Encode(env)
}

func (d *diagnostics) NotifyScenario(ev feedback.ScenarioEvent) {
	d.write(envelope{Conclave: kindFeedback, Message: &feedback.Message{Scenario: &ev}})
}

func (d *diagnostics) NotifyStep(ev feedback.StepEvent) {
	d.write(envelope{Conclave: kindFeedback, Message: &feedback.Message{Step: &ev}})
}

func (d *diagnostics) trackProcess(pid int) {
	d.write(envelope{Conclave: kindPID, PID: pid})
}

// Server runs scenarios on behalf of a parent process.
type Server struct {
	registry  *step.Registry
	diag      *diagnostics
	engine    *scenario.Engine
	mcpServer *server.MCPServer
}

// NewServer returns a worker server resolving steps with registry. Feedback
// and process ids are written to diag.
func NewServer(registry *step.Registry, diag io.Writer) *Server {
	d := newDiagnostics(diag)
	s := &Server{
		registry: registry,
		diag:     d,
		engine:   scenario.NewEngine(registry, d, scenario.WithProcessTracker(d.trackProcess)),
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(false),
		),
	}

	runTool := mcp.NewTool(ToolName,
		mcp.WithDescription("Run one scenario and return its result"),
		mcp.WithString(RequestArgument,
			mcp.Required(),
			mcp.Description("JSON encoded scenario run request"),
		),
	)
	s.mcpServer.AddTool(runTool, s.handleRunScenario)
	return s
}

// Serve announces the worker's pid and serves requests read from in until
// in is closed or ctx is cancelled. Responses are written to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.diag.trackProcess(os.Getpid())
	logging.Debug("Worker", "Worker %d serving %d step definitions", os.Getpid(), s.registry.Len())
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func (s *Server) handleRunScenario(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString(RequestArgument)
	if err != nil {
		return mcp.NewToolResultError("request argument is required"), nil
	}

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to decode request: %v", err)), nil
	}
	if req.Scenario == nil {
		return mcp.NewToolResultError("request carries no scenario"), nil
	}

	// Every scenario gets a fresh world, seeded when the parent sent state.
	w := world.New()
	if err := w.Import(req.World); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	logging.Debug("Worker", "Running scenario %q", req.Scenario.Name)
	res := s.engine.Run(ctx, req.run(), w)

	out, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// Main turns the current process into a worker serving registry on stdin and
// stdout. Anything else the process writes to stdout is redirected to stderr
// so that it cannot corrupt the MCP stream.
func Main(ctx context.Context, registry *step.Registry, level logging.LogLevel) error {
	stdout := os.Stdout
	os.Stdout = os.Stderr
	defer func() { os.Stdout = stdout }()

	logging.Init(level, os.Stderr, logging.FormatJSON)
	return NewServer(registry, os.Stderr).Serve(ctx, os.Stdin, stdout)
}
