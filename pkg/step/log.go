package step

import (
	"fmt"
	"strings"
	"sync"
)

// Log is a line-oriented capture buffer. Each handler invocation writes to its
// own Log, which is merged into the scenario log when the handler returns.
type Log struct {
	mu   sync.Mutex
	name string
	buf  strings.Builder
}

// NewLog returns a log whose lines are prefixed with "[name] ".
func NewLog(name string) *Log {
	return &Log{name: name}
}

// Logf appends a formatted line.
func (l *Log) Logf(format string, args ...any) {
	l.writeLine("", format, args...)
}

// LogErrorf appends a formatted line marked as an error.
func (l *Log) LogErrorf(format string, args ...any) {
	l.writeLine("ERROR ", format, args...)
}

func (l *Log) writeLine(marker, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.name != "" {
		fmt.Fprintf(&l.buf, "[%s] ", l.name)
	}
	l.buf.WriteString(marker)
	l.buf.WriteString(msg)
	l.buf.WriteByte('\n')
}

// Append adds raw text. A trailing newline is added when missing.
func (l *Log) Append(text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		l.buf.WriteByte('\n')
	}
}

// Merge appends the content of child.
func (l *Log) Merge(child *Log) {
	if child == nil || child == l {
		return
	}
	l.Append(child.String())
}

// String returns the captured text.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
