package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Levels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, false, true)

	l.Info("created %s", "db-pass")
	l.Warn("slow")
	l.Error("failed: %v", "db-pass")
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ created db-pass\n")
	assert.Contains(t, out, "⚠ slow\n")
	assert.Contains(t, out, "✗ failed: db-pass\n")
	assert.NotContains(t, out, "hidden")
	assert.NotContains(t, out, "\033[", "no color codes when disabled")
}

func TestLogger_DebugAndColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, true, false)
	assert.True(t, l.DebugEnabled())

	l.Debug("pool %s size %d", "secrets", 10)
	assert.Contains(t, buf.String(), "\033[36m[DEBUG]\033[0m pool secrets size 10")
}
