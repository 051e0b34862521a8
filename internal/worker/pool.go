package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/process"
	"conclave/pkg/scenario"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultInitTimeout bounds starting a worker and the MCP handshake.
	DefaultInitTimeout = 10 * time.Second

	// DefaultCloseTimeout bounds closing a worker connection.
	DefaultCloseTimeout = 5 * time.Second

	maxLineSize = 4 * 1024 * 1024
)

// Config describes how worker processes are started.
type Config struct {
	// Command is the executable to start. Defaults to the running binary.
	Command string
	// Args are passed to Command. Defaults to the hidden worker command.
	Args []string
	// Env is added to the parent's environment.
	Env []string
	// Size is the number of worker processes. Defaults to one per CPU.
	Size int

	InitTimeout  time.Duration
	CloseTimeout time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return c, fmt.Errorf("failed to locate executable: %w", err)
		}
		c.Command = exe
		if c.Args == nil {
			c.Args = []string{"worker"}
		}
	}
	if c.Size <= 0 {
		c.Size = runtime.NumCPU()
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	return c, nil
}

// conn is one running worker process.
type conn struct {
	client *client.Client
	done   chan struct{}
}

// Pool runs scenarios on a bounded set of worker processes. Workers are
// started on first use and restarted after a failed call.
type Pool struct {
	cfg      Config
	notifier feedback.Notifier
	monitor  *process.Monitor

	slots chan int
	mu    sync.Mutex
	conns []*conn
}

// NewPool returns a pool forwarding worker feedback to notifier and worker
// pids to monitor.
func NewPool(cfg Config, notifier feedback.Notifier, monitor *process.Monitor) (*Pool, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = feedback.Discard
	}
	if monitor == nil {
		monitor = process.NewMonitor()
	}
	p := &Pool{
		cfg:      cfg,
		notifier: notifier,
		monitor:  monitor,
		slots:    make(chan int, cfg.Size),
		conns:    make([]*conn, cfg.Size),
	}
	for i := 0; i < cfg.Size; i++ {
		p.slots <- i
	}
	return p, nil
}

// Size returns the number of worker processes.
func (p *Pool) Size() int {
	return p.cfg.Size
}

// RunScenario runs run on the next free worker. The worker index is
// reported in the result.
func (p *Pool) RunScenario(ctx context.Context, run scenario.Run, state map[string]json.RawMessage) (*scenario.Result, error) {
	var slot int
	select {
	case slot = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.slots <- slot }()

	c, err := p.conn(ctx, slot)
	if err != nil {
		return nil, err
	}

	arg, err := encodeRequest(newRequest(run, slot, state))
	if err != nil {
		return nil, err
	}

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name: ToolName,
			Arguments: map[string]any{
				RequestArgument: arg,
			},
		},
	})
	if err != nil {
		// The worker may be wedged in a step. Drop it; a new one is started
		// on the next call and the monitor reaps the old one.
		p.drop(slot, c)
		return nil, fmt.Errorf("worker %d failed to run scenario: %w", slot, err)
	}

	text := resultText(result)
	if result.IsError {
		return nil, fmt.Errorf("worker %d: %s", slot, text)
	}
	var res scenario.Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("worker %d returned an invalid result: %w", slot, err)
	}
	res.Worker = slot
	return &res, nil
}

func resultText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
	}
	return ""
}

func (p *Pool) conn(ctx context.Context, slot int) (*conn, error) {
	p.mu.Lock()
	c := p.conns[slot]
	p.mu.Unlock()
	if c != nil {
		select {
		case <-c.done:
			logging.Debug("WorkerPool", "Worker %d exited, restarting it", slot)
			p.drop(slot, c)
		default:
			return c, nil
		}
	}

	c, err := p.start(ctx, slot)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[slot] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) start(ctx context.Context, slot int) (*conn, error) {
	logging.Debug("WorkerPool", "Starting worker %d: %s %v", slot, p.cfg.Command, p.cfg.Args)

	mcpClient, err := client.NewStdioMCPClient(p.cfg.Command, p.cfg.Env, p.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %d: %w", slot, err)
	}

	c := &conn{client: mcpClient, done: make(chan struct{})}
	if stderr, ok := client.GetStderr(mcpClient); ok {
		go p.forward(slot, stderr, c.done)
	} else {
		close(c.done)
	}

	initCtx, cancel := context.WithTimeout(ctx, p.cfg.InitTimeout)
	defer cancel()
	_, err = mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "conclave",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		logging.Error("WorkerPool", err, "Failed to initialize worker %d", slot)
		p.close(slot, c)
		return nil, fmt.Errorf("failed to initialize worker %d: %w", slot, err)
	}
	return c, nil
}

// forward reads the worker's stderr until it is closed.
func (p *Pool) forward(slot int, stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		env, ok := decodeEnvelope(line)
		if !ok {
			logging.Debug("Worker", "[%d] %s", slot, line)
			continue
		}
		switch env.Conclave {
		case kindPID:
			p.monitor.Track(env.PID)
		case kindFeedback:
			if env.Message.Scenario != nil {
				p.notifier.NotifyScenario(*env.Message.Scenario)
			}
			if env.Message.Step != nil {
				p.notifier.NotifyStep(*env.Message.Step)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Debug("WorkerPool", "Reading stderr of worker %d: %v", slot, err)
	}
}

func (p *Pool) drop(slot int, c *conn) {
	p.mu.Lock()
	if p.conns[slot] == c {
		p.conns[slot] = nil
	}
	p.mu.Unlock()
	p.close(slot, c)
}

// close shuts c down, giving up after the close timeout.
func (p *Pool) close(slot int, c *conn) {
	closed := make(chan struct{})
	go func() {
		if err := c.client.Close(); err != nil {
			logging.Debug("WorkerPool", "Closing worker %d: %v", slot, err)
		}
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(p.cfg.CloseTimeout):
		logging.Warn("WorkerPool", "Timed out closing worker %d", slot)
	}
}

// Close stops every worker. The pool can be used again afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make([]*conn, p.cfg.Size)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for slot, c := range conns {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.close(slot, c)
		}()
	}
	wg.Wait()
	return nil
}
