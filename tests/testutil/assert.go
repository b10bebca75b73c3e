package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/dsstore/pkg/errkind"
)

// AssertKind verifies that err is an *errkind.Error of the given kind.
//
// Example usage:
//
//	_, err := svc.GetVersion(ctx, "db-pass", "latest")
//	AssertKind(t, err, errkind.NotFound)
func AssertKind(t *testing.T, err error, want errkind.Kind) {
	t.Helper()

	if !assert.Error(t, err, "expected a %s error", want) {
		return
	}
	var de *errkind.Error
	assert.ErrorAs(t, err, &de, "errors leaving a service must be *errkind.Error, got %T", err)
	assert.Equal(t, want, errkind.KindOf(err), "error: %v", err)
}

// AssertErrorContains verifies that an error occurred and contains a substring.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()

	if assert.Error(t, err, "Expected an error to occur") {
		assert.Contains(t, err.Error(), substr,
			"Error message should contain %q", substr)
	}
}

// AssertLinesContain verifies that every expected fragment appears on some
// line of output.
//
//	AssertLinesContain(t, out, []string{"db-pass", "api-key"})
func AssertLinesContain(t *testing.T, output string, expectedLines []string) {
	t.Helper()

	lines := strings.Split(output, "\n")
	for _, expected := range expectedLines {
		found := false
		for _, line := range lines {
			if strings.Contains(line, expected) {
				found = true
				break
			}
		}
		assert.True(t, found, "Expected to find line containing %q in output", expected)
	}
}
