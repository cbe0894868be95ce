//go:build test

package testutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.TrimLines, "TrimLines MUST default to true")
	assert.True(t, opts.TrimSpace, "TrimSpace MUST default to true")
	assert.False(t, opts.IgnoreEmptyLines, "IgnoreEmptyLines MUST default to false")
	assert.False(t, opts.EnableColors, "EnableColors MUST default to false")
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "indentation is ignored by default",
			actual:   "state: powered_on\n  peripherals: 2\n",
			expected: "state: powered_on\nperipherals: 2",
			match:    true,
		},
		{
			name:     "indentation matters when lines are not trimmed",
			opts:     []TextOption{WithTrimLines(false)},
			actual:   "a\n  b",
			expected: "a\nb",
		},
		{
			name:     "empty lines matter by default",
			actual:   "a\n\nb",
			expected: "a\nb",
		},
		{
			name:     "empty lines ignored when asked",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "content change is reported",
			actual:   "rssi: -40",
			expected: "rssi: -41",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff, "texts MUST match")
			} else {
				assert.NotEmpty(t, diff, "texts MUST differ")
			}
		})
	}
}

func TestTextAsserter_UnifiedDiffFormat(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\ntwo\nfour", "one\ntwo\nthree")

	assert.Contains(t, diff, "--- expected", "diff MUST name the expected side")
	assert.Contains(t, diff, "+++ actual", "diff MUST name the actual side")
	assert.Contains(t, diff, "-three")
	assert.Contains(t, diff, "+four")
}

func TestTextAsserter_Colors(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a c")

	assert.True(t, strings.Contains(diff, "\x1b["), "colored diff MUST carry ANSI escapes")
	assert.Contains(t, diff, "a·c", "changed lines MUST show blanks")
}

func TestTextAsserter_AssertReportsOnce(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).Assert("x", "y")

	assert.Len(t, rec.failures, 1)
}
