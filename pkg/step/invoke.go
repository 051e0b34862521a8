package step

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

// ErrPanic wraps a recovered handler panic.
var ErrPanic = errors.New("handler panicked")

// Result is the outcome of one handler invocation.
type Result struct {
	Start   time.Time     `json:"start" yaml:"start"`
	End     time.Time     `json:"end" yaml:"end"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	PID     int           `json:"pid" yaml:"pid"`
	Worker  int           `json:"worker" yaml:"worker"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
	Log     string        `json:"log,omitempty" yaml:"log,omitempty"`

	Err error `json:"-" yaml:"-"`
}

// Failed reports whether the invocation returned an error.
func (r Result) Failed() bool {
	return r.Err != nil || r.Error != ""
}

// Invoke runs fn with c and captures its outcome. Panics are recovered and
// reported as errors wrapping ErrPanic. The invocation log is merged into the
// scenario log before Invoke returns.
func Invoke(c *Context, fn func(*Context) error) Result {
	res := Result{
		Start:  time.Now(),
		PID:    os.Getpid(),
		Worker: c.worker,
	}

	err := call(c, fn)

	res.End = time.Now()
	res.Elapsed = res.End.Sub(res.Start)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		c.log.LogErrorf("%v", err)
	}
	res.Log = c.log.String()
	if c.env.Log != nil {
		c.env.Log.Merge(c.log)
	}
	return res
}

func call(c *Context, fn func(*Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn(c)
}
