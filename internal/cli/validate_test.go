package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate_ValidFile(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "listen: 127.0.0.1:9000\nauto: true\ndelays:\n  call: 1s\n")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "config valid")
}

func TestValidate_DefaultsWithoutFile(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json")
	require.NoError(t, err)

	var res ValidateResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, res.Valid)
	assert.Empty(t, res.File)
}

func TestValidate_UsesConfigFlag(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "listen: \"\"\n")

	_, err := execute(t, "--config", path, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidate_SchemaViolations(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "listen: \"\"\nlog:\n  level: loud\n")

	out, err := execute(t, "validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res ValidateResult
	decodeResponse(t, out, &res)
	assert.False(t, res.Valid)
	assert.GreaterOrEqual(t, len(res.Problems), 2)
}

func TestValidate_TextListsProblems(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "bridge:\n  burst: 0\n")

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "burst")
}

func TestValidate_UnreadableInput(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{"unknown key", func(t *testing.T) string { return writeFile(t, "bad.yaml", "listne: x\n") }},
		{"not yaml", func(t *testing.T) string { return writeFile(t, "bad.yaml", "listen: [\n") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", tt.path(t), "--format", "json")
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeResponse(t, out, nil)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeConfig, resp.Error.Code)
		})
	}
}
