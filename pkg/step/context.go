package step

import (
	"context"

	"conclave/pkg/feature"
	"conclave/pkg/world"
)

// RunContext describes the task a scenario runs as.
type RunContext struct {
	TaskID        string   `json:"taskId" yaml:"taskId"`
	Depends       []string `json:"depends,omitempty" yaml:"depends,omitempty"`
	DependsGroups []string `json:"dependsGroups,omitempty" yaml:"dependsGroups,omitempty"`
	RunAlways     bool     `json:"runAlways,omitempty" yaml:"runAlways,omitempty"`
	Group         string   `json:"group,omitempty" yaml:"group,omitempty"`
	Setup         bool     `json:"setup,omitempty" yaml:"setup,omitempty"`
	Teardown      bool     `json:"teardown,omitempty" yaml:"teardown,omitempty"`
	Concurrent    bool     `json:"concurrent,omitempty" yaml:"concurrent,omitempty"`
	Parallel      bool     `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Env is shared by every handler invocation of one scenario run.
type Env struct {
	Ctx      context.Context
	World    *world.World
	Scope    *world.World
	Run      RunContext
	Feature  *feature.Feature
	Scenario *feature.Scenario

	// Log receives the log of every finished invocation.
	Log *Log

	// Track registers a process id with the process monitor.
	Track func(pid int)
}

// StepContext returns the context for invoking def on st.
func (e *Env) StepContext(st *feature.Step, def *Definition, match []string, worker int) *Context {
	c := e.newContext(st.Text, worker)
	c.step = st
	c.match = match
	if def != nil {
		c.names = def.SubexpNames()
	}
	return c
}

// HookContext returns the context for a scenario hook.
func (e *Env) HookContext(name string) *Context {
	return e.newContext(name, 0)
}

func (e *Env) newContext(name string, worker int) *Context {
	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:    ctx,
		env:    e,
		log:    NewLog(name),
		worker: worker,
	}
}

// Context is passed to step handlers and hooks.
type Context struct {
	ctx    context.Context
	env    *Env
	log    *Log
	step   *feature.Step
	match  []string
	names  []string
	worker int
}

// Context returns the run's context. It is cancelled when the run is interrupted.
func (c *Context) Context() context.Context { return c.ctx }

// Logf appends a line to the invocation log.
func (c *Context) Logf(format string, args ...any) { c.log.Logf(format, args...) }

// LogErrorf appends an error line to the invocation log.
func (c *Context) LogErrorf(format string, args ...any) { c.log.LogErrorf(format, args...) }

// World returns the store shared with the rest of the run.
func (c *Context) World() *world.World { return c.env.World }

// Scope returns the store private to this scenario run.
func (c *Context) Scope() *world.World { return c.env.Scope }

// Run returns the task the scenario runs as.
func (c *Context) Run() RunContext { return c.env.Run }

// Feature returns the feature being run.
func (c *Context) Feature() *feature.Feature { return c.env.Feature }

// Scenario returns the scenario being run.
func (c *Context) Scenario() *feature.Scenario { return c.env.Scenario }

// Step returns the step being run, or nil inside a hook.
func (c *Context) Step() *feature.Step { return c.step }

// Worker returns the lane the invocation runs on.
func (c *Context) Worker() int { return c.worker }

// Matches returns the full match followed by the capture groups.
func (c *Context) Matches() []string { return c.match }

// Match returns capture group i, or "" when it does not exist.
func (c *Context) Match(i int) string {
	if i < 0 || i >= len(c.match) {
		return ""
	}
	return c.match[i]
}

// Named returns the named capture group, or "" when it does not exist.
func (c *Context) Named(name string) string {
	for i, n := range c.names {
		if n == name && i < len(c.match) {
			return c.match[i]
		}
	}
	return ""
}

// TrackProcess registers a child process so it is terminated when the run ends.
func (c *Context) TrackProcess(pid int) {
	if c.env.Track != nil {
		c.env.Track(pid)
	}
}
