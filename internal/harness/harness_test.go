package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Steps))
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"nineteen_minute_expiry", "store_outage"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	s := loadTestScenario(t, "regrant_after_expiry")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectFailuresAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "expectations that do not hold"
steps:
  - op: add
    item: { id: "1", price: "2.00", quantity: 2 }
    expect:
      items: 3
      events: 2
      totals: { discounted_total: "5.00", total_quantity: 1 }
  - op: tick
    expect: { fired: ["1"] }
assertions:
  - type: item_absent
    id: "1"
  - type: event_count
    count: 7
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[0], "expected 3 items, got 1")
}

func TestRun_UnexpectedErrorFailsStep(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: invalid_add
description: "a negative price is rejected"
steps:
  - op: add
    item: { id: "1", price: "-1", quantity: 1 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Contains(t, result.Trace[0].Error, "negative price")
	assert.Empty(t, result.Trace[0].Cart)
	assert.NotNil(t, result.Trace[0].Cart)
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{Type: AssertItem, Expected: "item 1 present", Actual: "absent"}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: item")
	assert.Contains(t, msg, "Expected: item 1 present")
	assert.Contains(t, msg, "(empty)")
}
