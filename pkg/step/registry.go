// Package step maps step text to handlers and runs them.
//
// Handlers are registered with a regular expression. Lookup scans the
// registrations in order and returns the first pattern that matches anywhere
// in the step text, so when two patterns match the same text the one
// registered first wins.
//
//	step.Register(`^I deploy (\w+) with (\d+) replicas$`, func(c *step.Context) error {
//		c.Logf("deploying %s", c.Match(1))
//		c.World().Set("app", c.Match(1))
//		return nil
//	})
//
// Every invocation runs through Invoke, which records timing, process and
// worker identity, the returned error or recovered panic, and merges the
// handler's log into the scenario log.
package step

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"

	"conclave/pkg/logging"
)

// ErrUndefinedStep is returned by Lookup when no pattern matches.
var ErrUndefinedStep = errors.New("undefined step")

// Handler implements a step.
type Handler func(c *Context) error

// Hook runs before or after every scenario.
type Hook func(c *Context) error

// Definition binds a pattern to a handler.
type Definition struct {
	Pattern string
	Handler Handler

	// Source is the file:line the definition was registered from.
	Source string

	re *regexp.Regexp
}

// Match returns the submatches of text, or nil when the pattern does not match.
func (d *Definition) Match(text string) []string {
	return d.re.FindStringSubmatch(text)
}

// SubexpNames returns the names of the pattern's capture groups.
func (d *Definition) SubexpNames() []string {
	return d.re.SubexpNames()
}

// Registry is an ordered set of step definitions plus scenario hooks.
type Registry struct {
	mu     sync.RWMutex
	defs   []*Definition
	before []Hook
	after  []Hook
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default is the registry used by the conclave command.
var Default = NewRegistry()

// Register adds a definition to the Default registry. It panics when pattern
// does not compile, like regexp.MustCompile.
func Register(pattern string, h Handler) {
	Default.mustRegister(pattern, h, 2)
}

// BeforeScenario adds a hook to the Default registry.
func BeforeScenario(h Hook) {
	Default.BeforeScenario(h)
}

// AfterScenario adds a hook to the Default registry.
func AfterScenario(h Hook) {
	Default.AfterScenario(h)
}

// Register appends a definition. Registration order decides ties at lookup.
func (r *Registry) Register(pattern string, h Handler) error {
	return r.register(pattern, h, 2)
}

// MustRegister is like Register but panics on an invalid pattern.
func (r *Registry) MustRegister(pattern string, h Handler) {
	r.mustRegister(pattern, h, 2)
}

func (r *Registry) mustRegister(pattern string, h Handler, skip int) {
	if err := r.register(pattern, h, skip+1); err != nil {
		panic(err)
	}
}

func (r *Registry) register(pattern string, h Handler, skip int) error {
	if h == nil {
		return fmt.Errorf("step %q: nil handler", pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("step %q: invalid pattern: %w", pattern, err)
	}

	def := &Definition{Pattern: pattern, Handler: h, re: re}
	if _, file, line, ok := runtime.Caller(skip); ok {
		def.Source = fmt.Sprintf("%s:%d", file, line)
	}

	r.mu.Lock()
	r.defs = append(r.defs, def)
	r.mu.Unlock()

	logging.Debug("StepRegistry", "Registered step %q", pattern)
	return nil
}

// BeforeScenario appends a hook run before the steps of every scenario.
func (r *Registry) BeforeScenario(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, h)
}

// AfterScenario appends a hook run after the steps of every scenario.
func (r *Registry) AfterScenario(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, h)
}

// BeforeHooks returns the before-scenario hooks in registration order.
func (r *Registry) BeforeHooks() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.before...)
}

// AfterHooks returns the after-scenario hooks in registration order.
func (r *Registry) AfterHooks() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.after...)
}

// Lookup returns the first definition whose pattern matches text together
// with the submatches.
func (r *Registry) Lookup(text string) (*Definition, []string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.defs {
		if m := def.Match(text); m != nil {
			return def, m, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUndefinedStep, text)
}

// Definitions returns the registered definitions in order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Definition(nil), r.defs...)
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
