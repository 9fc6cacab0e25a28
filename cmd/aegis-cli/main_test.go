package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	testdata := filepath.Join("..", "..", "internal", "slo", "testdata")

	out, _, err := execute(t, "validate", "--dir", filepath.Join(testdata, "valid"))
	require.NoError(t, err)
	assert.Contains(t, out, "objective files are valid")

	_, errOut, err := execute(t, "validate", "--dir", filepath.Join(testdata, "invalid"))
	assert.Equal(t, errValidationFailed, err)
	assert.Contains(t, errOut, "target-out-of-range.yaml")

	_, _, err = execute(t, "validate")
	assert.Error(t, err, "--dir is required")
}

func TestLadder(t *testing.T) {
	out, _, err := execute(t, "ladder", "--window", "28d")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[1], "critical")
	assert.Contains(t, lines[1], "5m")
	assert.Contains(t, lines[4], "3d")

	out, _, err = execute(t, "ladder", "--window", "30m")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2, "a window below every long window collapses to one rung")

	_, _, err = execute(t, "ladder", "--window", "soon")
	assert.Error(t, err)
}

func TestBudget(t *testing.T) {
	out, _, err := execute(t, "budget", "--target", "0.99", "--errors", "50", "--total", "10000")
	require.NoError(t, err)
	assert.Contains(t, out, "budget remaining: 50.00%")
	assert.Contains(t, out, "availability:     99.5000%")

	out, _, err = execute(t, "budget", "--target", "0.99", "--errors", "300", "--total", "10000")
	require.NoError(t, err)
	assert.Contains(t, out, "budget remaining: -200.00%")
	assert.Contains(t, out, "budget exhausted")

	out, _, err = execute(t, "budget", "--target", "0.99")
	require.NoError(t, err)
	assert.Contains(t, out, "no traffic")

	_, _, err = execute(t, "budget", "--target", "1")
	assert.Error(t, err)
}
