package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world this is a long string", 15, "hello world ..."},
		{"newlines replaced with spaces", "hello\nworld", 20, "hello world"},
		{"carriage returns handled", "hello\r\nworld", 20, "hello world"},
		{"unicode kept whole", "héllo wörld ünïcode", 10, "héllo w..."},
		{"maxLen clamped", "hello", 1, "h..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "boom", FirstLine("boom\ngoroutine 1 [running]:"))
	assert.Equal(t, "boom", FirstLine("boom\r\nmore"))
	assert.Equal(t, "single", FirstLine("single"))
}

func TestSummarize(t *testing.T) {
	msg := "\n  step failed: expected 7 widgets, found 6\npanic stack\n"
	assert.Equal(t, "step failed: expected 7 widgets, found 6", Summarize(msg, DefaultErrorMaxLen))
	assert.Equal(t, "step failed: e...", Summarize(msg, 17))
}
