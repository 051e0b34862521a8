// Package worker runs parallel scenarios in separate processes.
//
// A worker is the conclave binary itself started with the hidden worker
// command. It serves a single MCP tool, run_scenario, over stdio. Everything
// the worker wants to tell the parent outside of tool results (feedback
// events, process ids to reap, log lines) is written to its stderr, one JSON
// envelope per line.
package worker

import (
	"encoding/json"
	"fmt"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/scenario"
	"conclave/pkg/step"
)

const (
	// ToolName is the MCP tool served by workers.
	ToolName = "run_scenario"

	// RequestArgument is the tool argument carrying the JSON encoded Request.
	RequestArgument = "request"

	serverName    = "conclave-worker"
	serverVersion = "1.0.0"
)

// Request asks a worker to run one scenario.
type Request struct {
	Run      step.RunContext            `json:"run"`
	Worker   int                        `json:"worker"`
	Feature  *feature.Feature           `json:"feature"`
	Scenario *feature.Scenario          `json:"scenario"`
	World    map[string]json.RawMessage `json:"world,omitempty"`
}

func newRequest(run scenario.Run, worker int, state map[string]json.RawMessage) Request {
	req := Request{
		Run:      run.Context,
		Worker:   worker,
		Scenario: run.Scenario,
		World:    state,
	}
	if run.Feature != nil {
		req.Feature = run.Feature.Summary()
	}
	return req
}

func (r Request) run() scenario.Run {
	return scenario.Run{
		Feature:  r.Feature,
		Scenario: r.Scenario,
		Context:  r.Run,
		Worker:   r.Worker,
	}
}

type envelopeKind string

const (
	kindFeedback envelopeKind = "feedback"
	kindPID      envelopeKind = "pid"
)

// envelope is one line on a worker's stderr.
type envelope struct {
	Conclave envelopeKind      `json:"conclave"`
	Message  *feedback.Message `json:"message,omitempty"`
	PID      int               `json:"pid,omitempty"`
}

// decodeEnvelope parses line. ok is false for lines that are not envelopes,
// such as log output.
func decodeEnvelope(line []byte) (env envelope, ok bool) {
	if len(line) == 0 || line[0] != '{' {
		return env, false
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return env, false
	}
	switch env.Conclave {
	case kindFeedback:
		return env, env.Message != nil
	case kindPID:
		return env, env.PID > 0
	default:
		return env, false
	}
}

func encodeRequest(req Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode worker request: %w", err)
	}
	return string(raw), nil
}
